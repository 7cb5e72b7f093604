package healthdata

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DateLayout 是导出文件名与缓存键中使用的日期格式。
	DateLayout = "2006-01-02"
	// FilePrefix/FileSuffix 组成 HealthAutoExport-YYYY-MM-DD.json。
	FilePrefix = "HealthAutoExport-"
	FileSuffix = ".json"
	// FilePattern 用于在数据目录中匹配全部导出文件。
	FilePattern = FilePrefix + "*" + FileSuffix
)

// DailyFileName 返回某一天的导出文件名。
func DailyFileName(date time.Time) string {
	return FilePrefix + date.Format(DateLayout) + FileSuffix
}

// ParseDate 解析 YYYY-MM-DD。
func ParseDate(raw string) (time.Time, error) {
	date, err := time.ParseInLocation(DateLayout, strings.TrimSpace(raw), time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", raw)
	}
	return date, nil
}

// DateFromFileName 从导出文件名中提取日期，不是导出文件时 ok 为 false。
func DateFromFileName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, FilePrefix) || !strings.HasSuffix(name, FileSuffix) {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(name, FilePrefix), FileSuffix)
	date, err := ParseDate(raw)
	if err != nil {
		return time.Time{}, false
	}
	return date, true
}

// DateRange 返回以 end 结尾、共 days 天的日期，按从旧到新排列。
func DateRange(end time.Time, days int) []time.Time {
	if days <= 0 {
		return nil
	}
	end = truncateDay(end)
	dates := make([]time.Time, days)
	for i := 0; i < days; i++ {
		dates[i] = end.AddDate(0, 0, i-days+1)
	}
	return dates
}

// Yesterday 返回 now 前一天的零点，每日检查默认读取这一天。
func Yesterday(now time.Time) time.Time {
	return truncateDay(now).AddDate(0, 0, -1)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
