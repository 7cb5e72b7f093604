package healthdata

import (
	"encoding/json"
	"math"
	"sort"
	"time"
)

// Export 是 Health Auto Export 每日文件的类型化视图，只保留汇总用到的字段。
type Export struct {
	Data ExportData `json:"data"`
}

// ExportData 对应文件中的 data 节点。
type ExportData struct {
	Metrics  []Metric          `json:"metrics"`
	Workouts []json.RawMessage `json:"workouts,omitempty"`
}

// Metric 是单个指标的全部采样。
type Metric struct {
	Name  string      `json:"name"`
	Units string      `json:"units"`
	Data  []DataPoint `json:"data"`
}

// DataPoint 是一次采样。心率类指标使用 Min/Avg/Max，其余使用 Qty。
type DataPoint struct {
	Date   string   `json:"date"`
	Qty    float64  `json:"qty"`
	Min    *float64 `json:"Min,omitempty"`
	Avg    *float64 `json:"Avg,omitempty"`
	Max    *float64 `json:"Max,omitempty"`
	Source string   `json:"source,omitempty"`
}

// Metric 按名称查找指标。
func (e *Export) Metric(name string) (Metric, bool) {
	if e == nil {
		return Metric{}, false
	}
	for _, m := range e.Data.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return Metric{}, false
}

// MetricSummary 描述单个指标在当天的采样概况。
type MetricSummary struct {
	Name   string  `json:"name"`
	Units  string  `json:"units"`
	Points int     `json:"points"`
	Sum    float64 `json:"sum"`
}

// Totals 是每日检查关心的关键指标。
type Totals struct {
	Steps            int     `json:"steps,omitempty"`
	ActiveEnergyKcal int     `json:"active_energy_kcal,omitempty"`
	ExerciseMinutes  int     `json:"exercise_minutes,omitempty"`
	StandHours       int     `json:"stand_hours,omitempty"`
	DistanceKm       float64 `json:"distance_km,omitempty"`
	FlightsClimbed   int     `json:"flights_climbed,omitempty"`
	RestingHeartRate int     `json:"resting_hr,omitempty"`
	SleepRecords     int     `json:"sleep_records,omitempty"`
}

// Summary 是一天导出数据的派生结果，也是默认缓存的计算值。
type Summary struct {
	Date        string          `json:"date"`
	File        string          `json:"file"`
	MetricCount int             `json:"metric_count"`
	Workouts    int             `json:"workouts"`
	Metrics     []MetricSummary `json:"metrics"`
	Totals      Totals          `json:"totals"`
}

// Summarize 汇总 export；指标按名称排序，结果与文件中的指标顺序无关。
func Summarize(date time.Time, export *Export) Summary {
	summary := Summary{
		Date: date.Format(DateLayout),
		File: DailyFileName(date),
	}
	if export == nil {
		return summary
	}

	summary.MetricCount = len(export.Data.Metrics)
	summary.Workouts = len(export.Data.Workouts)
	summary.Metrics = make([]MetricSummary, 0, len(export.Data.Metrics))
	for _, m := range export.Data.Metrics {
		summary.Metrics = append(summary.Metrics, MetricSummary{
			Name:   m.Name,
			Units:  m.Units,
			Points: len(m.Data),
			Sum:    round2(sumQty(m.Data)),
		})
	}
	sort.Slice(summary.Metrics, func(i, j int) bool {
		return summary.Metrics[i].Name < summary.Metrics[j].Name
	})

	t := &summary.Totals
	if m, ok := export.Metric("step_count"); ok {
		t.Steps = int(sumQty(m.Data))
	}
	if m, ok := export.Metric("active_energy"); ok {
		t.ActiveEnergyKcal = int(sumQty(m.Data))
	}
	if m, ok := export.Metric("apple_exercise_time"); ok {
		t.ExerciseMinutes = int(sumQty(m.Data))
	}
	if m, ok := export.Metric("apple_stand_hour"); ok {
		t.StandHours = int(sumQty(m.Data))
	}
	if m, ok := export.Metric("walking_running_distance"); ok {
		t.DistanceKm = round2(sumQty(m.Data))
	}
	if m, ok := export.Metric("flights_climbed"); ok {
		t.FlightsClimbed = int(sumQty(m.Data))
	}
	if m, ok := export.Metric("resting_heart_rate"); ok && len(m.Data) > 0 {
		// 取最后一次读数。
		t.RestingHeartRate = int(m.Data[len(m.Data)-1].Qty)
	}
	if m, ok := export.Metric("sleep_analysis"); ok {
		t.SleepRecords = len(m.Data)
	}
	return summary
}

func sumQty(points []DataPoint) float64 {
	var total float64
	for _, p := range points {
		total += p.Qty
	}
	return total
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
