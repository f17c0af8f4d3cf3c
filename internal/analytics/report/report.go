// Package report renders the company ESG summary as a PDF document.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/greenledger/internal/analytics/domain"
	ewastedomain "github.com/smallbiznis/greenledger/internal/ewaste/domain"
	"github.com/smallbiznis/greenledger/pkg/decimalx"
)

// Data is everything printed on the report.
type Data struct {
	CompanyName string
	Industry    string
	Dashboard   domain.Dashboard
	Trends      []domain.TrendPoint
	Devices     []ewastedomain.DeviceSummary
}

type PDF struct{}

func New() *PDF { return &PDF{} }

func (p *PDF) Render(_ context.Context, data Data) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, "ESG report", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, "Generated "+data.Dashboard.GeneratedAt.UTC().Format(time.RFC3339), props.Text{
			Size:  8,
			Align: align.Right,
		}),
	)

	name := data.CompanyName
	if name == "" {
		name = "Company"
	}
	m.AddRow(15,
		col.New(12).Add(
			text.New(name, props.Text{Style: fontstyle.Bold, Size: 12}),
			text.New(data.Industry, props.Text{Top: 6, Size: 9}),
		),
	)

	section(m, "Emissions (tCO2e)")
	e := data.Dashboard.Emissions
	summaryRow(m, "Scope 1", tonnes(e.Scope1))
	summaryRow(m, "Scope 2", tonnes(e.Scope2))
	summaryRow(m, "Scope 3", tonnes(e.Scope3))
	summaryRow(m, "Total", tonnes(e.Total))
	summaryRow(m, "Reporting periods", fmt.Sprintf("%d", e.Periods))

	section(m, "Carbon neutrality")
	n := data.Dashboard.Neutrality
	if !n.From.IsZero() {
		summaryRow(m, "Window", n.From.Format("2006-01-02")+" to "+n.To.Format("2006-01-02"))
	}
	summaryRow(m, "Verified emissions", tonnes(n.Emissions))
	summaryRow(m, "Offsets retired", tonnes(n.Offsets))
	summaryRow(m, "Net balance", tonnes(n.Net))
	summaryRow(m, "Neutrality", percent(n.Percent))

	section(m, "Compliance")
	summaryRow(m, "ESRS datapoints complete", percent(data.Dashboard.ComplianceCompletion))

	if len(data.Trends) > 0 {
		section(m, "Trend by reporting period")
		m.AddRow(8,
			text.NewCol(3, "Period", props.Text{Style: fontstyle.Bold, Size: 9}),
			text.NewCol(2, "Scope 1", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
			text.NewCol(2, "Scope 2", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
			text.NewCol(2, "Scope 3", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
			text.NewCol(2, "Total", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
			text.NewCol(1, "Change", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		)
		for _, pt := range data.Trends {
			change := "-"
			if pt.Change != nil {
				change = percent(*pt.Change)
			}
			m.AddRow(7,
				text.NewCol(3, pt.ReportingPeriod+" ("+pt.Status+")", props.Text{Size: 9}),
				text.NewCol(2, tonnes(pt.Scope1), props.Text{Size: 9, Align: align.Right}),
				text.NewCol(2, tonnes(pt.Scope2), props.Text{Size: 9, Align: align.Right}),
				text.NewCol(2, tonnes(pt.Scope3), props.Text{Size: 9, Align: align.Right}),
				text.NewCol(2, tonnes(pt.Total), props.Text{Size: 9, Align: align.Right}),
				text.NewCol(1, change, props.Text{Size: 9, Align: align.Right}),
			)
		}
	}

	section(m, "E-waste")
	w := data.Dashboard.Ewaste
	summaryRow(m, "Entries", fmt.Sprintf("%d", w.Entries))
	summaryRow(m, "Weight (kg)", decimalx.Format(w.WeightKg, 2))
	summaryRow(m, "CO2 saved (t)", tonnes(w.CO2Saved))
	summaryRow(m, "Credits generated", decimalx.Format(w.CreditsGenerated, 2))
	for _, d := range data.Devices {
		m.AddRow(7,
			col.New(1),
			text.NewCol(5, string(d.DeviceType), props.Text{Size: 9}),
			text.NewCol(3, fmt.Sprintf("%d units", d.Quantity), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(3, tonnes(d.CO2Saved)+" t", props.Text{Size: 9, Align: align.Right}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return doc.GetBytes(), nil
}

func section(m core.Maroto, title string) {
	m.AddRow(14,
		text.NewCol(12, title, props.Text{
			Size:  12,
			Style: fontstyle.Bold,
			Top:   6,
		}),
	)
}

func summaryRow(m core.Maroto, label, value string) {
	m.AddRow(7,
		text.NewCol(6, label, props.Text{Size: 9}),
		text.NewCol(6, value, props.Text{Size: 9, Align: align.Right}),
	)
}

func tonnes(d decimal.Decimal) string { return decimalx.Format(d, 2) }

func percent(d decimal.Decimal) string { return d.StringFixed(2) + "%" }
