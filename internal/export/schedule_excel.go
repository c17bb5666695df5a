package export

import (
	"bytes"
	"fmt"
	"sort"

	"tracktech-scheduler/internal/calendar"
	"tracktech-scheduler/internal/repository"

	"github.com/xuri/excelize/v2"
)

const (
	ScheduleSheet    = "Schedule"
	UnscheduledSheet = "Unscheduled"
)

// ScheduleHeader 排产表表头
var ScheduleHeader = []string{
	"Date",
	"Line",
	"Order No",
	"Style",
	"Allocated Qty",
	"Line Capacity",
	"Slot Used",
	"Overbooked",
}

// UnscheduledHeader 未排产订单表表头
var UnscheduledHeader = []string{
	"Order No",
	"Style",
	"Quantity",
	"Delivery Date",
	"Unit",
	"Lines",
	"Status",
}

// ScheduleRow 排产表的一行（一个排产块）
type ScheduleRow struct {
	Date         string
	LineName     string
	OrderNo      string
	StyleName    string
	AllocatedQty int
	LineCapacity int
	SlotUsed     int
	Overbooked   bool
}

// UnscheduledRow 未排产订单
type UnscheduledRow struct {
	OrderNo      string
	StyleName    string
	Quantity     int
	DeliveryDate string
	UnitName     string
	LineNames    string
	Status       string
}

// BuildScheduleRows 从排产块生成表格行，按日期、生产线、订单号排序
func BuildScheduleRows(store *repository.EntityStore, proj *calendar.Projection) []ScheduleRow {
	blocks := store.Blocks.All()
	rows := make([]ScheduleRow, 0, len(blocks))
	for _, b := range blocks {
		usage := proj.CapacityUsage(b.LineID, b.Date)
		rows = append(rows, ScheduleRow{
			Date:         b.Date,
			LineName:     store.LineName(b.LineID),
			OrderNo:      b.OrderNo,
			StyleName:    b.StyleName,
			AllocatedQty: b.AllocatedQuantity,
			LineCapacity: usage.Total,
			SlotUsed:     usage.Used,
			Overbooked:   usage.Overbooked(),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Date != rows[j].Date {
			return rows[i].Date < rows[j].Date
		}
		if rows[i].LineName != rows[j].LineName {
			return rows[i].LineName < rows[j].LineName
		}
		return rows[i].OrderNo < rows[j].OrderNo
	})
	return rows
}

// GenerateScheduleWorkbook 生成排产导出 Excel 文件
func GenerateScheduleWorkbook(rows []ScheduleRow, unscheduled []UnscheduledRow) ([]byte, error) {
	f := excelize.NewFile()
	// WriteTo 之前不能关闭文件

	scheduleIndex, err := f.NewSheet(ScheduleSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if _, err := f.NewSheet(UnscheduledSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	// 删除默认的 Sheet1
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(scheduleIndex)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	scheduleData := make([][]interface{}, 0, len(rows))
	for _, r := range rows {
		overbooked := "No"
		if r.Overbooked {
			overbooked = "Yes"
		}
		scheduleData = append(scheduleData, []interface{}{
			r.Date, r.LineName, r.OrderNo, r.StyleName,
			r.AllocatedQty, r.LineCapacity, r.SlotUsed, overbooked,
		})
	}
	if err := writeSheet(f, ScheduleSheet, ScheduleHeader, []float64{12, 18, 20, 20, 14, 14, 12, 12}, scheduleData, headerStyle); err != nil {
		f.Close()
		return nil, err
	}

	unscheduledData := make([][]interface{}, 0, len(unscheduled))
	for _, r := range unscheduled {
		unscheduledData = append(unscheduledData, []interface{}{
			r.OrderNo, r.StyleName, r.Quantity, r.DeliveryDate, r.UnitName, r.LineNames, r.Status,
		})
	}
	if err := writeSheet(f, UnscheduledSheet, UnscheduledHeader, []float64{20, 20, 12, 14, 18, 30, 16}, unscheduledData, headerStyle); err != nil {
		f.Close()
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

// writeSheet 写表头、列宽、数据并冻结首行
func writeSheet(f *excelize.File, sheet string, headers []string, widths []float64, data [][]interface{}, headerStyle int) error {
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
	}

	for i, w := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(sheet, col, col, w); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for rowIdx, values := range data {
		cell, err := excelize.CoordinatesToCellName(1, rowIdx+2) // 第1行是表头
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", rowIdx+2, err)
		}
	}

	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		Split:       false,
		XSplit:      0,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze panes: %w", err)
	}
	return nil
}
