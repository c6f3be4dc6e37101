package metrics

import (
	"encoding/json"
	"fmt"
	"os"
)

// DashboardConfig holds configuration for generating Grafana dashboards.
type DashboardConfig struct {
	Title       string
	UID         string
	DataSource  string
	RefreshRate string
	TimeRange   string
	Tags        []string
}

// DefaultDashboardConfig returns the default dashboard configuration.
func DefaultDashboardConfig() *DashboardConfig {
	return &DashboardConfig{
		Title:       "Synacor VM",
		UID:         "synacor-vm",
		DataSource:  "Prometheus",
		RefreshRate: "10s",
		TimeRange:   "1h",
		Tags:        []string{"synvm", "interpreter", "vm"},
	}
}

// GrafanaDashboard represents a Grafana dashboard.
type GrafanaDashboard struct {
	UID           string                   `json:"uid"`
	Title         string                   `json:"title"`
	Tags          []string                 `json:"tags"`
	Timezone      string                   `json:"timezone"`
	SchemaVersion int                      `json:"schemaVersion"`
	Version       int                      `json:"version"`
	Refresh       string                   `json:"refresh"`
	Time          DashboardTime            `json:"time"`
	Panels        []map[string]interface{} `json:"panels"`
	Templating    DashboardTemplating      `json:"templating"`
}

// DashboardTime represents the time range for a dashboard.
type DashboardTime struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// DashboardTemplating represents dashboard variables.
type DashboardTemplating struct {
	List []map[string]interface{} `json:"list"`
}

// Target represents a Prometheus query target.
type Target struct {
	Expr         string `json:"expr"`
	LegendFormat string `json:"legendFormat"`
	RefID        string `json:"refId"`
	Interval     string `json:"interval,omitempty"`
}

// GridPos represents the position and size of a panel.
type GridPos struct {
	H int `json:"h"`
	W int `json:"w"`
	X int `json:"x"`
	Y int `json:"y"`
}

// GenerateDashboard generates a Grafana dashboard JSON.
func GenerateDashboard(config *DashboardConfig) (*GrafanaDashboard, error) {
	if config == nil {
		config = DefaultDashboardConfig()
	}

	dashboard := &GrafanaDashboard{
		UID:           config.UID,
		Title:         config.Title,
		Tags:          config.Tags,
		Timezone:      "browser",
		SchemaVersion: 38,
		Version:       1,
		Refresh:       config.RefreshRate,
		Time: DashboardTime{
			From: "now-" + config.TimeRange,
			To:   "now",
		},
		Templating: DashboardTemplating{
			List: []map[string]interface{}{
				{
					"name":       "datasource",
					"type":       "datasource",
					"query":      "prometheus",
					"current":    map[string]interface{}{"text": config.DataSource, "value": config.DataSource},
					"hide":       0,
					"includeAll": false,
					"multi":      false,
				},
			},
		},
		Panels: generatePanels(config.DataSource),
	}

	return dashboard, nil
}

// generatePanels generates all dashboard panels.
func generatePanels(dataSource string) []map[string]interface{} {
	panels := make([]map[string]interface{}, 0)
	panelID := 1
	y := 0

	// Row: Overview
	panels = append(panels, createRow(panelID, "Overview", 0, y))
	panelID++
	y++

	// Stat panels row
	panels = append(panels, createStatPanel(panelID, "Instructions Executed", "synvm_instructions_total", dataSource, GridPos{H: 4, W: 6, X: 0, Y: y}))
	panelID++
	panels = append(panels, createStatPanel(panelID, "Instruction Pointer", "synvm_current_pc", dataSource, GridPos{H: 4, W: 6, X: 6, Y: y}))
	panelID++
	panels = append(panels, createStatPanel(panelID, "Stack Depth", "synvm_stack_depth", dataSource, GridPos{H: 4, W: 6, X: 12, Y: y}))
	panelID++
	panels = append(panels, createStatPanel(panelID, "Program Words", "synvm_program_words", dataSource, GridPos{H: 4, W: 6, X: 18, Y: y}))
	panelID++
	y += 4

	// Row: Execution
	panels = append(panels, createRow(panelID, "Execution", 0, y))
	panelID++
	y++

	// Instruction rate
	panels = append(panels, createGraphPanel(panelID, "Instruction Rate",
		[]Target{
			{Expr: "rate(synvm_instructions_total[1m])", LegendFormat: "instr/s", RefID: "A"},
		},
		dataSource, GridPos{H: 8, W: 12, X: 0, Y: y}))
	panelID++

	// Stack depth over time
	panels = append(panels, createGraphPanel(panelID, "Stack Depth Over Time",
		[]Target{
			{Expr: "synvm_stack_depth", LegendFormat: "depth", RefID: "A"},
		},
		dataSource, GridPos{H: 8, W: 12, X: 12, Y: y}))
	panelID++
	y += 8

	// Row: Terminal I/O
	panels = append(panels, createRow(panelID, "Terminal I/O", 0, y))
	panelID++
	y++

	// Character throughput
	panels = append(panels, createGraphPanel(panelID, "Terminal Throughput",
		[]Target{
			{Expr: "rate(synvm_output_chars_total[1m])", LegendFormat: "output chars/s", RefID: "A"},
			{Expr: "rate(synvm_input_chars_total[1m])", LegendFormat: "input chars/s", RefID: "B"},
		},
		dataSource, GridPos{H: 8, W: 12, X: 0, Y: y}))
	panelID++

	// Input wait histogram
	panels = append(panels, createHeatmapPanel(panelID, "Input Wait Duration",
		"synvm_input_wait_seconds_bucket",
		dataSource, GridPos{H: 8, W: 12, X: 12, Y: y}))
	panelID++
	y += 8

	// Row: Resource Usage
	panels = append(panels, createRow(panelID, "Resource Usage", 0, y))
	panelID++
	y++

	// Memory usage
	panels = append(panels, createGraphPanel(panelID, "Memory Usage",
		[]Target{
			{Expr: "synvm_memory_bytes / 1024 / 1024", LegendFormat: "Memory (MB)", RefID: "A"},
			{Expr: "synvm_runtime_heap_alloc_bytes / 1024 / 1024", LegendFormat: "Heap Alloc (MB)", RefID: "B"},
			{Expr: "synvm_runtime_heap_inuse_bytes / 1024 / 1024", LegendFormat: "Heap In Use (MB)", RefID: "C"},
		},
		dataSource, GridPos{H: 8, W: 12, X: 0, Y: y}))
	panelID++

	// Goroutines
	panels = append(panels, createGraphPanel(panelID, "Goroutines",
		[]Target{
			{Expr: "synvm_goroutines", LegendFormat: "Goroutines", RefID: "A"},
		},
		dataSource, GridPos{H: 8, W: 12, X: 12, Y: y}))
	panelID++
	y += 8

	// GC metrics
	panels = append(panels, createGraphPanel(panelID, "GC Pause Time",
		[]Target{
			{Expr: "rate(synvm_runtime_gc_pause_total_ns[5m]) / 1000000", LegendFormat: "GC Pause (ms/s)", RefID: "A"},
			{Expr: "synvm_runtime_gc_last_pause_ns / 1000000", LegendFormat: "Last GC Pause (ms)", RefID: "B"},
		},
		dataSource, GridPos{H: 8, W: 12, X: 0, Y: y}))
	panelID++

	// Faults
	panels = append(panels, createGraphPanel(panelID, "Faults",
		[]Target{
			{Expr: "increase(synvm_faults_total[5m])", LegendFormat: "faults", RefID: "A"},
		},
		dataSource, GridPos{H: 8, W: 12, X: 12, Y: y}))

	return panels
}

// createRow creates a row panel.
func createRow(id int, title string, x, y int) map[string]interface{} {
	return map[string]interface{}{
		"id":        id,
		"type":      "row",
		"title":     title,
		"collapsed": false,
		"gridPos": map[string]interface{}{
			"h": 1,
			"w": 24,
			"x": x,
			"y": y,
		},
		"panels": []interface{}{},
	}
}

// createStatPanel creates a stat panel.
func createStatPanel(id int, title, expr, dataSource string, pos GridPos) map[string]interface{} {
	return map[string]interface{}{
		"id":    id,
		"type":  "stat",
		"title": title,
		"gridPos": map[string]interface{}{
			"h": pos.H,
			"w": pos.W,
			"x": pos.X,
			"y": pos.Y,
		},
		"datasource": map[string]interface{}{
			"type": "prometheus",
			"uid":  "${datasource}",
		},
		"targets": []map[string]interface{}{
			{
				"expr":         expr,
				"legendFormat": "",
				"refId":        "A",
			},
		},
		"options": map[string]interface{}{
			"reduceOptions": map[string]interface{}{
				"values": false,
				"calcs":  []string{"lastNotNull"},
				"fields": "",
			},
			"orientation": "auto",
			"textMode":    "auto",
			"colorMode":   "value",
			"graphMode":   "area",
			"justifyMode": "auto",
		},
		"fieldConfig": map[string]interface{}{
			"defaults": map[string]interface{}{
				"thresholds": map[string]interface{}{
					"mode": "absolute",
					"steps": []map[string]interface{}{
						{"color": "green", "value": nil},
					},
				},
			},
			"overrides": []interface{}{},
		},
	}
}

// createGraphPanel creates a time series graph panel.
func createGraphPanel(id int, title string, targets []Target, dataSource string, pos GridPos) map[string]interface{} {
	targetsMap := make([]map[string]interface{}, len(targets))
	for i, t := range targets {
		targetsMap[i] = map[string]interface{}{
			"expr":         t.Expr,
			"legendFormat": t.LegendFormat,
			"refId":        t.RefID,
		}
	}

	return map[string]interface{}{
		"id":    id,
		"type":  "timeseries",
		"title": title,
		"gridPos": map[string]interface{}{
			"h": pos.H,
			"w": pos.W,
			"x": pos.X,
			"y": pos.Y,
		},
		"datasource": map[string]interface{}{
			"type": "prometheus",
			"uid":  "${datasource}",
		},
		"targets": targetsMap,
		"options": map[string]interface{}{
			"tooltip": map[string]interface{}{
				"mode": "single",
				"sort": "none",
			},
			"legend": map[string]interface{}{
				"displayMode": "list",
				"placement":   "bottom",
				"showLegend":  true,
			},
		},
		"fieldConfig": map[string]interface{}{
			"defaults": map[string]interface{}{
				"custom": map[string]interface{}{
					"drawStyle":         "line",
					"lineInterpolation": "linear",
					"barAlignment":      0,
					"lineWidth":         1,
					"fillOpacity":       10,
					"gradientMode":      "none",
					"spanNulls":         false,
					"showPoints":        "auto",
					"pointSize":         5,
					"stacking": map[string]interface{}{
						"mode":  "none",
						"group": "A",
					},
					"axisPlacement": "auto",
					"axisLabel":     "",
					"axisColorMode": "text",
					"scaleDistribution": map[string]interface{}{
						"type": "linear",
					},
					"axisCenteredZero": false,
					"hideFrom": map[string]interface{}{
						"tooltip": false,
						"viz":     false,
						"legend":  false,
					},
					"thresholdsStyle": map[string]interface{}{
						"mode": "off",
					},
				},
				"color": map[string]interface{}{
					"mode": "palette-classic",
				},
				"thresholds": map[string]interface{}{
					"mode": "absolute",
					"steps": []map[string]interface{}{
						{"color": "green", "value": nil},
					},
				},
			},
			"overrides": []interface{}{},
		},
	}
}

// createHeatmapPanel creates a heatmap panel for histograms.
func createHeatmapPanel(id int, title, expr, dataSource string, pos GridPos) map[string]interface{} {
	return map[string]interface{}{
		"id":    id,
		"type":  "heatmap",
		"title": title,
		"gridPos": map[string]interface{}{
			"h": pos.H,
			"w": pos.W,
			"x": pos.X,
			"y": pos.Y,
		},
		"datasource": map[string]interface{}{
			"type": "prometheus",
			"uid":  "${datasource}",
		},
		"targets": []map[string]interface{}{
			{
				"expr":         fmt.Sprintf("sum(rate(%s[5m])) by (le)", expr),
				"legendFormat": "{{le}}",
				"refId":        "A",
				"format":       "heatmap",
			},
		},
		"options": map[string]interface{}{
			"calculate": false,
			"cellGap":   1,
			"color": map[string]interface{}{
				"exponent": 0.5,
				"fill":     "dark-orange",
				"mode":     "scheme",
				"scale":    "exponential",
				"scheme":   "Oranges",
				"steps":    64,
			},
			"exemplars": map[string]interface{}{
				"color": "rgba(255,0,255,0.7)",
			},
			"filterValues": map[string]interface{}{
				"le": 1e-9,
			},
			"legend": map[string]interface{}{
				"show": true,
			},
			"rowsFrame": map[string]interface{}{
				"layout": "auto",
			},
			"tooltip": map[string]interface{}{
				"show":       true,
				"yHistogram": false,
			},
			"yAxis": map[string]interface{}{
				"axisPlacement": "left",
				"reverse":       false,
				"unit":          "s",
			},
		},
	}
}

// GenerateDashboardJSON generates the dashboard as a JSON string.
func GenerateDashboardJSON(config *DashboardConfig) (string, error) {
	dashboard, err := GenerateDashboard(config)
	if err != nil {
		return "", err
	}

	jsonBytes, err := json.MarshalIndent(dashboard, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal dashboard: %w", err)
	}

	return string(jsonBytes), nil
}

// WriteDashboardFile writes the dashboard JSON to a file.
func WriteDashboardFile(path string, config *DashboardConfig) error {
	jsonStr, err := GenerateDashboardJSON(config)
	if err != nil {
		return err
	}

	return os.WriteFile(path, []byte(jsonStr), 0644)
}

// GetPrometheusConfig returns a sample Prometheus scrape configuration.
func GetPrometheusConfig(metricsAddr string) string {
	if metricsAddr == "" {
		metricsAddr = "localhost:9090"
	}

	return fmt.Sprintf(`# Prometheus scrape configuration for synvm

scrape_configs:
  - job_name: 'synvm'
    static_configs:
      - targets: ['%s']
    scrape_interval: 10s
    metrics_path: /metrics
`, metricsAddr)
}

// GetAlertRules returns sample Prometheus alerting rules.
func GetAlertRules() string {
	return `# Prometheus alerting rules for synvm

groups:
  - name: synvm
    rules:
      - alert: SynvmFaulted
        expr: increase(synvm_faults_total[5m]) > 0
        labels:
          severity: critical
        annotations:
          summary: "Interpreter faulted"
          description: "The interpreter recorded {{ $value }} fatal faults in the last 5 minutes"

      - alert: SynvmHighMemory
        expr: synvm_memory_bytes > 1e9
        for: 10m
        labels:
          severity: warning
        annotations:
          summary: "Interpreter host memory is high"
          description: "Interpreter host memory usage is {{ humanize $value }}"
`
}
