package classifier

import (
	"encoding/json"
	"strconv"
	"strings"
)

// reply is the JSON shape the prompt asks the model for.
type reply struct {
	MerchantName    *string `json:"merchant_name"`
	TransactionType *string `json:"transaction_type"`
	Location        *string `json:"location"`
	Currency        *string `json:"currency"`
	Last4CardNumber *string `json:"last_4_card_number"`
	Date            *string `json:"date"`
}

type example struct {
	input  string
	output reply
}

func strp(v string) *string { return &v }

var examples = []example{
	{
		input:  "UBER* TRIP",
		output: reply{MerchantName: strp("UBER* TRIP"), TransactionType: strp("Merchant")},
	},
	{
		input: "EZI*TPC Fitzroy MELBOURNE AU AUS Card xx4321 Value Date: 24/10/2024",
		output: reply{
			MerchantName:    strp("EZI*TPC"),
			TransactionType: strp("Merchant"),
			Location:        strp("Fitzroy MELBOURNE AU AUS"),
			Currency:        strp("AUS"),
			Last4CardNumber: strp("xx4321"),
			Date:            strp("24/10/2024"),
		},
	},
	{
		input: "SP BENCHCLEARERS NEWARK DE USA Card xx1234 USD 55.98 Value Date: 21/10/2024",
		output: reply{
			MerchantName:    strp("SP BENCHCLEARERS"),
			TransactionType: strp("Merchant"),
			Location:        strp("NEWARK DE USA"),
			Currency:        strp("USD"),
			Last4CardNumber: strp("xx1234"),
			Date:            strp("21/10/2024"),
		},
	},
	{
		input:  "Direct Debit 376681 John Doe PT 155982777",
		output: reply{MerchantName: strp("John Doe PT 155982777"), TransactionType: strp("Direct Debit")},
	},
	{
		input: "International Transaction Fee Value Date: 20/10/2024",
		output: reply{
			MerchantName:    strp("International Transaction Fee"),
			TransactionType: strp("Fee"),
			Date:            strp("20/10/2024"),
		},
	},
	{
		input:  "Transfer To J R Blog PayID Phone from CommBank App Octoberfest",
		output: reply{MerchantName: strp("J R Blog PayID Phone"), TransactionType: strp("Transfer")},
	},
}

const promptHeader = `Please parse the following bank transaction and extract key information in JSON format.
Include these fields: merchant_name, transaction_type, location (if present), currency, last_4_card_number (if present), date (if present).

Return only the JSON object, no additional text. If a field is not present, use null.

Here are some examples of how to parse similar transactions:
`

// fewShot is rendered once; only the final input varies per call.
var fewShot = renderExamples()

func renderExamples() string {
	var b strings.Builder
	b.WriteString(promptHeader)
	for _, ex := range examples {
		out, _ := json.MarshalIndent(ex.output, "", "    ")
		b.WriteString("\nInput: ")
		b.WriteString(strconv.Quote(ex.input))
		b.WriteString("\nOutput:\n```json\n")
		b.Write(out)
		b.WriteString("\n```\n")
	}
	return b.String()
}

// BuildPrompt embeds description into the few-shot prompt.
func BuildPrompt(description string) string {
	return fewShot + "\nNow parse this transaction:\nInput: " + strconv.Quote(description) + "\nOutput:\n"
}
