// Package notionsync mirrors detected subscriptions into a Notion database,
// one page per merchant.
package notionsync

import (
	"context"
	"fmt"

	"github.com/dvloznov/spendtrack/internal/analytics"
	"github.com/dvloznov/spendtrack/internal/domain"
	"github.com/jomei/notionapi"
	"github.com/rs/zerolog"
)

const pageSize = 100

// SyncResult counts what a sync did (or would do, on a dry run).
type SyncResult struct {
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Archived int `json:"archived"`
	Failed   int `json:"failed"`
}

// Syncer writes subscription candidates to one Notion database.
type Syncer struct {
	notion     Pages
	databaseID string
	dryRun     bool
	log        zerolog.Logger
}

// NewSyncer creates a Syncer. With dryRun set nothing is written.
func NewSyncer(notion Pages, databaseID string, dryRun bool, log zerolog.Logger) *Syncer {
	return &Syncer{notion: notion, databaseID: databaseID, dryRun: dryRun, log: log}
}

// SyncSubscriptions makes the database match candidates:
// 1. Queries all existing pages
// 2. Archives pages whose merchant is no longer a candidate (or untitled duplicates)
// 3. Updates pages for known merchants and creates the rest
//
// Individual page failures are logged and counted; only listing the
// database is fatal.
func (s *Syncer) SyncSubscriptions(ctx context.Context, candidates []analytics.Candidate, categories map[string][]domain.Category) (SyncResult, error) {
	var res SyncResult

	s.log.Info().
		Int("candidates", len(candidates)).
		Bool("dry_run", s.dryRun).
		Msg("Starting subscription sync to Notion")

	pages, err := queryAllNotionPages(ctx, s.notion, s.databaseID)
	if err != nil {
		return res, fmt.Errorf("SyncSubscriptions: %w", err)
	}

	wanted := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		wanted[c.Merchant] = true
	}

	// First page per merchant wins; the rest are archived.
	existing := make(map[string]string, len(pages))
	for _, page := range pages {
		merchant := merchantFromPage(page)
		_, dup := existing[merchant]
		if merchant == "" || dup || !wanted[merchant] {
			s.archive(ctx, page, merchant, &res)
			continue
		}
		existing[merchant] = string(page.ID)
	}

	for _, c := range candidates {
		props := SubscriptionToNotionProperties(c, categories[c.Merchant])
		log := s.log.With().Str("merchant", c.Merchant).Logger()

		pageID, ok := existing[c.Merchant]
		switch {
		case s.dryRun && ok:
			log.Info().Str("page_id", pageID).Msg("[DRY RUN] Would update Notion page")
			res.Updated++
		case s.dryRun:
			log.Info().Msg("[DRY RUN] Would create Notion page")
			res.Created++
		case ok:
			if _, err := s.notion.UpdatePage(ctx, pageID, props); err != nil {
				log.Warn().Err(err).Str("page_id", pageID).Msg("Failed to update Notion page")
				res.Failed++
				continue
			}
			res.Updated++
		default:
			page, err := s.notion.CreatePage(ctx, s.databaseID, props)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to create Notion page")
				res.Failed++
				continue
			}
			log.Debug().Str("page_id", string(page.ID)).Msg("Created Notion page")
			res.Created++
		}
	}

	s.log.Info().
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("archived", res.Archived).
		Int("failed", res.Failed).
		Msg("Subscription sync completed")
	return res, nil
}

func (s *Syncer) archive(ctx context.Context, page notionapi.Page, merchant string, res *SyncResult) {
	log := s.log.With().Str("merchant", merchant).Str("page_id", string(page.ID)).Logger()
	if s.dryRun {
		log.Info().Msg("[DRY RUN] Would archive stale Notion page")
		res.Archived++
		return
	}
	if err := s.notion.ArchivePage(ctx, string(page.ID)); err != nil {
		log.Warn().Err(err).Msg("Failed to archive stale Notion page")
		res.Failed++
		return
	}
	log.Info().Msg("Archived stale Notion page")
	res.Archived++
}

// queryAllNotionPages follows the cursor until every page is loaded.
func queryAllNotionPages(ctx context.Context, notion Pages, databaseID string) ([]notionapi.Page, error) {
	var pages []notionapi.Page
	req := &notionapi.DatabaseQueryRequest{PageSize: pageSize}
	for {
		resp, err := notion.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllNotionPages: %w", err)
		}
		pages = append(pages, resp.Results...)
		if !resp.HasMore {
			return pages, nil
		}
		req = &notionapi.DatabaseQueryRequest{PageSize: pageSize, StartCursor: resp.NextCursor}
	}
}
