// Command report renders an HTML chart page for a finished session: metric
// diffs over time plus the position and alert split from the stored
// aggregate.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/upright-data/posture.report/internal/posture"
	"github.com/upright-data/posture.report/internal/store"
	"github.com/upright-data/posture.report/internal/telemetry"
)

var (
	dbPath    = flag.String("db", "posture_data.db", "Path to the SQLite database")
	sessionID = flag.String("session", "", "Session to report on (default: latest for -user)")
	user      = flag.String("user", "", "Pick the latest session of this user")
	outPath   = flag.String("out", "report.html", "Output HTML file")
)

func main() {
	flag.Parse()

	st, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	id, err := pickSession(st)
	if err != nil {
		log.Fatalf("failed to pick session: %v", err)
	}

	report, err := st.Report(id)
	if errors.Is(err, store.ErrNotFound) {
		log.Fatalf("session %s has no report; was it finalized?", id)
	}
	if err != nil {
		log.Fatalf("failed to load report: %v", err)
	}
	readings, err := st.ReadingSeries(id)
	if err != nil {
		log.Fatalf("failed to load readings: %v", err)
	}

	page := components.NewPage()
	page.SetPageTitle(fmt.Sprintf("Posture report %s", id))
	page.AddCharts(diffChart(readings), positionPie(report), alertBars(report))

	out, err := os.Create(*outPath)
	if err != nil {
		log.Fatalf("failed to create output file: %v", err)
	}
	defer out.Close()
	if err := page.Render(out); err != nil {
		log.Fatalf("failed to render report: %v", err)
	}
	log.Printf("wrote %s for session %s (%d readings)", *outPath, id, len(readings))
}

func pickSession(st *store.Store) (string, error) {
	if *sessionID != "" {
		return *sessionID, nil
	}
	if *user == "" {
		return "", errors.New("either -session or -user is required")
	}
	sessions, err := st.Sessions(*user)
	if err != nil {
		return "", err
	}
	for _, info := range sessions {
		if info.Status == store.SessionClosed {
			return info.ID, nil
		}
	}
	return "", fmt.Errorf("no closed sessions for %s", *user)
}

// diffChart plots the baseline-relative angle diffs over the session.
func diffChart(readings []posture.Reading) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Baseline diffs", Subtitle: "degrees, filtered"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "time"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "deg"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)

	axis := make([]string, len(readings))
	series := map[string][]opts.LineData{
		"head pitch":  make([]opts.LineData, len(readings)),
		"head yaw":    make([]opts.LineData, len(readings)),
		"trunk pitch": make([]opts.LineData, len(readings)),
	}
	for i, r := range readings {
		axis[i] = r.Timestamp.Format(time.TimeOnly)
		series["head pitch"][i] = opts.LineData{Value: r.Diff.HeadPitch}
		series["head yaw"][i] = opts.LineData{Value: r.Diff.HeadYaw}
		series["trunk pitch"][i] = opts.LineData{Value: r.Diff.TrunkPitch}
	}

	line.SetXAxis(axis)
	for _, name := range []string{"head pitch", "head yaw", "trunk pitch"} {
		line.AddSeries(name, series[name])
	}
	return line
}

// positionPie shows the standing/sitting/absent split.
func positionPie(report *telemetry.SessionAggregate) *charts.Pie {
	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Time in position"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)

	var data []opts.PieData
	for _, pos := range []posture.Position{posture.PositionStanding, posture.PositionSitting, posture.PositionAbsent} {
		stat := report.Positions[pos]
		if stat.Frames == 0 {
			continue
		}
		data = append(data, opts.PieData{Name: string(pos), Value: stat.Frames})
	}
	pie.AddSeries("position", data)
	return pie
}

// alertBars shows activation counts per alert.
func alertBars(report *telemetry.SessionAggregate) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Alert activations"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)

	names := make([]string, 0, len(posture.Alerts()))
	counts := make([]opts.BarData, 0, len(posture.Alerts()))
	for _, alert := range posture.Alerts() {
		names = append(names, string(alert))
		counts = append(counts, opts.BarData{Value: report.AlertActivations[alert]})
	}
	bar.SetXAxis(names)
	bar.AddSeries("activations", counts)
	return bar
}
