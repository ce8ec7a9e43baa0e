package api

import (
	"io"

	"github.com/diwise/iot-sensor-telemetry/pkg/types"
	"github.com/xuri/excelize/v2"
)

const (
	xlsxContentType string = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	alarmSheet      string = "Alarms"
)

var alarmColumns = []string{"TimeStamp", "IDSensor", "gas_ppm"}

func writeAlarmWorkbook(w io.Writer, entries []types.AlarmEntry) error {
	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet(alarmSheet); err != nil {
		return err
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}

	index, err := f.GetSheetIndex(alarmSheet)
	if err != nil {
		return err
	}
	f.SetActiveSheet(index)

	for col, name := range alarmColumns {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(alarmSheet, cell, name); err != nil {
			return err
		}
	}

	for i, e := range entries {
		row := []any{e.TimeStamp.UTC(), e.IDSensor, e.GasPPM}
		for col, v := range row {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(alarmSheet, cell, v); err != nil {
				return err
			}
		}
	}

	_, err = f.WriteTo(w)
	return err
}
