package notionsync

import (
	"context"
	"fmt"
	"time"

	"github.com/jomei/notionapi"
)

// Pages is the slice of the Notion API the mirror needs.
type Pages interface {
	CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error)
	UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error)
	QueryDatabase(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	// ArchivePage hides a page from the database views.
	ArchivePage(ctx context.Context, pageID string) error
}

// requestTimeout bounds a single Notion call, retries included.
const requestTimeout = 30 * time.Second

// Client implements Pages with an integration token.
type Client struct {
	api *notionapi.Client
}

// NewClient authenticates with token. Rate-limited (429) responses are
// retried by the SDK up to maxRetries times.
func NewClient(token string, maxRetries int) *Client {
	var opts []notionapi.ClientOption
	if maxRetries > 0 {
		opts = append(opts, notionapi.WithRetry(maxRetries))
	}
	return &Client{api: notionapi.NewClient(notionapi.Token(token), opts...)}
}

func (c *Client) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	page, err := c.api.Page.Create(ctx, &notionapi.PageCreateRequest{
		Parent:     notionapi.Parent{Type: notionapi.ParentTypeDatabaseID, DatabaseID: notionapi.DatabaseID(databaseID)},
		Properties: properties,
	})
	if err != nil {
		return nil, fmt.Errorf("CreatePage: database %s: %w", databaseID, err)
	}
	return page, nil
}

func (c *Client) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	return c.updatePage(ctx, "UpdatePage", pageID, &notionapi.PageUpdateRequest{Properties: properties})
}

func (c *Client) ArchivePage(ctx context.Context, pageID string) error {
	_, err := c.updatePage(ctx, "ArchivePage", pageID, &notionapi.PageUpdateRequest{
		Archived:   true,
		Properties: notionapi.Properties{},
	})
	return err
}

func (c *Client) updatePage(ctx context.Context, op, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	page, err := c.api.Page.Update(ctx, notionapi.PageID(pageID), req)
	if err != nil {
		return nil, fmt.Errorf("%s: page %s: %w", op, pageID, err)
	}
	return page, nil
}

func (c *Client) QueryDatabase(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := c.api.Database.Query(ctx, notionapi.DatabaseID(databaseID), req)
	if err != nil {
		return nil, fmt.Errorf("QueryDatabase: database %s: %w", databaseID, err)
	}
	return resp, nil
}

var _ Pages = (*Client)(nil)
