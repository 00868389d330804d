// Package report renders the record listing as an XLSX workbook for offline
// review by the building administration.
package report

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
	"meeting-ata-go/internal/types"
)

const sheetName = "Gravações"

var headers = []string{
	"ID", "Arquivo", "Formato", "Tamanho (MB)", "Status",
	"Status da Ata", "Enviado em", "Usuário", "Reunião",
}

// BuildRecords creates a workbook with one row per audio record. The caller
// owns the returned file and must Close it.
func BuildRecords(records []types.AudioRecord) (*excelize.File, error) {
	f := excelize.NewFile()
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("drop default sheet: %w", err)
	}

	for col, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}

	for rowIdx, rec := range records {
		values := []any{
			rec.ID,
			rec.OriginalName,
			rec.Format,
			fmt.Sprintf("%.2f", float64(rec.SizeBytes)/1024/1024),
			string(rec.ProcessingStatus),
			string(rec.MinutesStatus),
			rec.CreatedAt.Format(time.RFC3339),
			rec.UserID,
			rec.MeetingRef,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, rowIdx+2)
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return nil, fmt.Errorf("write row %d: %w", rowIdx+2, err)
			}
		}
	}
	return f, nil
}
