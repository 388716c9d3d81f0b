package invoice

import (
	"bytes"
	"strings"
	"text/template"
	"time"

	"github.com/xraph/tally/types"
)

var summaryTmpl = template.Must(template.New("summary").Funcs(template.FuncMap{
	"date":  func(t time.Time) string { return t.UTC().Format("2006-01-02") },
	"neg":   func(m types.Money) string { return m.Negate().String() },
	"human": func(s string) string { return strings.ReplaceAll(s, "_", " ") },
}).Parse(`{{if eq .Inv.Kind "compensating"}}Correction {{.Inv.ID}} to {{.Inv.CorrectsID}}{{else}}Invoice {{.Inv.ID}}{{end}} for {{.Account}}
Usage period: {{date .Inv.PeriodStart}} to {{date .Inv.PeriodEnd}}
{{- range .Inv.LineItems}}
{{- if eq .Type "flat_fee"}}
Flat fee: {{.Amount}}
{{- else if eq .Type "usage"}}
  {{human (print .Category)}}: {{.Quantity}} over {{.Included}} included x {{.UnitAmount}} = {{.Amount}}{{if .Flagged}} (under review){{end}}
{{- else if eq .Type "adjustment"}}
  {{.Description}}: {{.Amount}}
{{- end}}
{{- end}}
{{- range .Inv.Discounts}}
Discount {{human (print .Kind)}} ({{.Percent}}%): {{neg .Amount}}
{{- end}}
Total: {{.Inv.Total}}
{{- with .Inv.Conversion}} ({{.Total}} at {{.Rate}}){{end}}
{{- if eq .Inv.Status "paid"}}
Nothing to pay.
{{- else}}
Due: {{date .Inv.DueDate}}
{{- end}}
`))

// Render produces the human-readable summary delivered alongside the invoice.
func Render(inv *Invoice, accountName string) (string, error) {
	var buf bytes.Buffer
	err := summaryTmpl.Execute(&buf, struct {
		Inv     *Invoice
		Account string
	}{Inv: inv, Account: accountName})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
