package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"vinewatch/internal/types"
)

// headerIndex maps the wanted column names to their positions in the header
// row. Missing required columns produce a validation error.
func headerIndex(header []string, required ...string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}
	for _, name := range required {
		if _, ok := idx[name]; !ok {
			return nil, types.NewAppError(types.ErrCodeValidationMissingField,
				fmt.Sprintf("required column %q missing from CSV header", name), nil)
		}
	}
	return idx, nil
}

func cell(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func parseIntPtr(s string) *int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}

// ImportCultivars upserts variety names and heat-summation thresholds from
// the cultivar CSV. An unparseable threshold imports the variety with a nil
// threshold; the projection models then skip it until the file is fixed.
// An optional biofix_date column (YYYY-MM-DD) sets the cultivar's biofix;
// rows without one leave any existing biofix and all predictions untouched.
func (i *Importer) ImportCultivars(ctx context.Context) (int, error) {
	f, err := os.Open(i.files.CultivarCSV)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeValidationMissingField, "cannot open cultivar CSV", err)
	}
	defer f.Close()
	return i.importCultivarRows(ctx, f)
}

func (i *Importer) importCultivarRows(ctx context.Context, r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeValidationMissingField, "cultivar CSV has no header row", err)
	}
	idx, err := headerIndex(header, "variety", "heat_summation")
	if err != nil {
		return 0, err
	}

	count := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			i.logger.Warn("skipping malformed cultivar row", "error", err)
			continue
		}

		name := cell(row, idx["variety"])
		if name == "" {
			continue
		}
		if err := i.cultivars.UpsertThreshold(ctx, name, parseIntPtr(cell(row, idx["heat_summation"]))); err != nil {
			return count, err
		}

		if biofixIdx, ok := idx["biofix_date"]; ok {
			if biofix := cell(row, biofixIdx); biofix != "" {
				if _, err := time.Parse("2006-01-02", biofix); err != nil {
					i.logger.Warn("ignoring unparseable biofix date", "variety", name, "biofix_date", biofix)
				} else if err := i.cultivars.SetBiofix(ctx, name, &biofix); err != nil {
					return count, err
				}
			}
		}
		count++
	}
	return count, nil
}

// ImportPests upserts pest lifecycle stages from the pest CSV.
func (i *Importer) ImportPests(ctx context.Context) (int, error) {
	f, err := os.Open(i.files.PestCSV)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeValidationMissingField, "cannot open pest CSV", err)
	}
	defer f.Close()
	return i.importPestRows(ctx, f)
}

func (i *Importer) importPestRows(ctx context.Context, r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeValidationMissingField, "pest CSV has no header row", err)
	}
	idx, err := headerIndex(header,
		"sequence_id", "common_name", "scientific_name", "dormant", "stage", "gdd_min", "gdd_max")
	if err != nil {
		return 0, err
	}

	count := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			i.logger.Warn("skipping malformed pest row", "error", err)
			continue
		}

		seq, err := strconv.Atoi(cell(row, idx["sequence_id"]))
		if err != nil {
			i.logger.Warn("skipping pest row without a sequence id", "row", row)
			continue
		}

		p := types.Pest{
			SequenceID:     seq,
			CommonName:     cell(row, idx["common_name"]),
			ScientificName: cell(row, idx["scientific_name"]),
			Dormant:        parseBool(cell(row, idx["dormant"])),
			Stage:          cell(row, idx["stage"]),
			MinGDD:         parseIntPtr(cell(row, idx["gdd_min"])),
			MaxGDD:         parseIntPtr(cell(row, idx["gdd_max"])),
		}
		if err := i.reference.UpsertPest(ctx, p); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func parseBool(s string) bool {
	v, err := strconv.ParseBool(strings.ToLower(s))
	return err == nil && v
}
