package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/stwalsh4118/appraisal/internal/differ"
	"github.com/stwalsh4118/appraisal/internal/models"
	"github.com/stwalsh4118/appraisal/internal/services"
)

const none = "-"

func formatPrice(p *float64) string {
	if p == nil {
		return none
	}
	return strconv.FormatFloat(*p, 'f', 2, 64)
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return none
	}
	return s
}

func renderCounts(c differ.Counts, sourceRecords, skipped, duplicates int) string {
	rows := [][]string{
		{"Source records", strconv.Itoa(sourceRecords)},
		{"Added", strconv.Itoa(c.Added)},
		{"Removed", strconv.Itoa(c.Removed)},
		{"Matched", strconv.Itoa(c.Matched)},
		{"Sales changes", strconv.Itoa(c.SalesChanges)},
		{"Class changes", strconv.Itoa(c.ClassChanges)},
		{"Possible key matches", strconv.Itoa(c.FuzzyMatches)},
		{"Skipped rows", strconv.Itoa(skipped)},
		{"Duplicate keys", strconv.Itoa(duplicates)},
	}
	return renderTable("Summary", []string{"Category", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
}

func renderSalesChanges(changes []differ.SalesChange) string {
	rows := make([][]string, 0, len(changes))
	for _, sc := range changes {
		rows = append(rows, []string{
			sc.CompositeKey,
			formatPrice(sc.OldPrice),
			formatPrice(sc.NewPrice),
			orNone(sc.OldDate),
			orNone(sc.NewDate),
			orNone(sc.NewNU),
		})
	}
	return renderTable("Sales changes",
		[]string{"Key", "Old price", "New price", "Old date", "New date", "NU"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight})
}

func renderClassChanges(changes []differ.ClassChange) string {
	rows := make([][]string, 0, len(changes))
	for _, cc := range changes {
		rows = append(rows, []string{cc.CompositeKey, cc.Field, orNone(cc.OldValue), orNone(cc.NewValue)})
	}
	return renderTable("Class changes", []string{"Key", "Field", "Old", "New"}, rows, nil)
}

func renderKeys(title string, keys []string) string {
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k})
	}
	return renderTable(title, []string{"Key"}, rows, nil)
}

func renderFuzzyMatches(matches []differ.FuzzyMatch) string {
	rows := make([][]string, 0, len(matches))
	for _, m := range matches {
		rows = append(rows, []string{m.AddedKey, m.RemovedKey, m.Normalized})
	}
	return renderTable("Possible key matches", []string{"Added", "Removed", "Normalized"}, rows, nil)
}

// renderPreview prints the summary and every non-empty category.
func renderPreview(p *services.Preview) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job %d, vendor %s, diffed against file version %d\n",
		p.JobID, p.Vendor, p.FileVersion)
	b.WriteString(renderCounts(p.Counts, p.SourceRecords, len(p.SkippedRows), len(p.DuplicateKeys)))
	b.WriteString("\n")

	cs := p.ChangeSet
	if cs.IsEmpty() {
		b.WriteString("No changes.\n")
		return b.String()
	}
	sections := []struct {
		n      int
		render func() string
	}{
		{len(cs.SalesChanges), func() string { return renderSalesChanges(cs.SalesChanges) }},
		{len(cs.ClassChanges), func() string { return renderClassChanges(cs.ClassChanges) }},
		{len(cs.Added), func() string { return renderKeys("Added", cs.Added) }},
		{len(cs.Removed), func() string { return renderKeys("Removed", cs.Removed) }},
		{len(cs.FuzzyMatches), func() string { return renderFuzzyMatches(cs.FuzzyMatches) }},
	}
	for _, s := range sections {
		if s.n == 0 {
			continue
		}
		b.WriteString(s.render())
		b.WriteString("\n")
	}
	return b.String()
}

func renderReports(reports []models.ComparisonReport) string {
	rows := make([][]string, 0, len(reports))
	for _, r := range reports {
		s := r.Summary
		rows = append(rows, []string{
			r.ReportDate.Local().Format("2006-01-02 15:04"),
			strconv.Itoa(r.FileVersion),
			r.Status,
			strconv.Itoa(s.Added),
			strconv.Itoa(s.Removed),
			strconv.Itoa(s.SalesChanges),
			strconv.Itoa(s.RecordsWritten),
			strconv.Itoa(s.WriteErrors),
			fmt.Sprintf("%d/%d/%d", s.NormalizationKept, s.NormalizationReject, s.NormalizationCleared),
			r.RunID.String(),
		})
	}
	return renderTable("Comparison reports",
		[]string{"Date", "Version", "Status", "Added", "Removed", "Sales", "Written", "Errors", "Kept/Rejected/Cleared", "Run"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight})
}
