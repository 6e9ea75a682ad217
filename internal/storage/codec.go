package storage

import (
	"encoding/json"
	"errors"

	"github.com/heispv/biotrainer/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// Stamp returns the version header new records should carry.
func Stamp() model.VersionedRecord {
	return model.VersionedRecord{
		SchemaVersion: CurrentSchemaVersion,
		CodecVersion:  CurrentCodecVersion,
	}
}

func EncodeRunSummary(s model.RunSummary) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeRunSummary(data []byte) (model.RunSummary, error) {
	var summary model.RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return model.RunSummary{}, err
	}
	if err := checkVersion(summary.VersionedRecord); err != nil {
		return model.RunSummary{}, err
	}
	return summary, nil
}

func EncodeRunReport(r model.RunReport) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRunReport(data []byte) (model.RunReport, error) {
	var report model.RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return model.RunReport{}, err
	}
	if err := checkVersion(report.VersionedRecord); err != nil {
		return model.RunReport{}, err
	}
	return report, nil
}

func EncodeCheckpointMeta(m model.CheckpointMeta) ([]byte, error) {
	return json.Marshal(m)
}

func DecodeCheckpointMeta(data []byte) (model.CheckpointMeta, error) {
	var meta model.CheckpointMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return model.CheckpointMeta{}, err
	}
	if err := checkVersion(meta.VersionedRecord); err != nil {
		return model.CheckpointMeta{}, err
	}
	return meta, nil
}

func EncodeExportRecord(e model.ExportRecord) ([]byte, error) {
	return json.Marshal(e)
}

func DecodeExportRecord(data []byte) (model.ExportRecord, error) {
	var record model.ExportRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.ExportRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.ExportRecord{}, err
	}
	return record, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
