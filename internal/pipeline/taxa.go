// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

package pipeline

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/eklind/artgrid/internal/models"
)

// LoadTaxaList reads the configured taxa input list. Accepted formats:
//
//   - comma or tab separated with a header naming a taxon_id column and
//     optional scientific_name / swedish_name columns
//   - legacy headerless single-column lists of taxon ids
//
// Blank lines and rows with an unparseable id are skipped. A missing
// file maps to MISSING_INPUT.
func LoadTaxaList(path string) ([]models.TaxonRow, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, models.NewError(models.CodeMissingInput, "taxa list not found: %s", path)
		}
		return nil, models.WrapError(models.CodeInternal, err, "failed to open taxa list %s", path)
	}
	defer func() {
		_ = f.Close()
	}()

	return parseTaxaList(f, path)
}

func parseTaxaList(r io.Reader, path string) ([]models.TaxonRow, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, models.WrapError(models.CodeInternal, err, "failed to read taxa list %s", path)
	}

	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.Comma = detectDelimiter(string(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, models.WrapError(models.CodeBadRequest, err, "failed to parse taxa list %s", path)
	}
	if len(records) == 0 {
		return nil, nil
	}

	idCol, sciCol, sweCol := 0, -1, -1
	start := 0
	if _, err := strconv.ParseInt(strings.TrimSpace(records[0][0]), 10, 64); err != nil {
		// First row is a header.
		idCol = -1
		for i, name := range records[0] {
			switch strings.ToLower(strings.TrimSpace(name)) {
			case "taxon_id", "taxonid", "id":
				idCol = i
			case "scientific_name", "scientificname":
				sciCol = i
			case "swedish_name", "swedishname":
				sweCol = i
			}
		}
		if idCol < 0 {
			return nil, models.NewError(models.CodeBadRequest,
				"taxa list %s has a header without a taxon_id column", path)
		}
		start = 1
	}

	seen := make(map[int64]bool)
	var taxa []models.TaxonRow
	for _, rec := range records[start:] {
		if idCol >= len(rec) {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSpace(rec[idCol]), 10, 64)
		if err != nil || id <= 0 || seen[id] {
			continue
		}
		seen[id] = true

		row := models.TaxonRow{TaxonID: id}
		if sciCol >= 0 && sciCol < len(rec) {
			row.ScientificName = strings.TrimSpace(rec[sciCol])
		}
		if sweCol >= 0 && sweCol < len(rec) {
			row.SwedishName = strings.TrimSpace(rec[sweCol])
		}
		taxa = append(taxa, row)
	}
	return taxa, nil
}

// detectDelimiter picks tab when the first line contains one, otherwise
// comma.
func detectDelimiter(data string) rune {
	firstLine := data
	if i := strings.IndexByte(data, '\n'); i >= 0 {
		firstLine = data[:i]
	}
	if strings.ContainsRune(firstLine, '\t') {
		return '\t'
	}
	return ','
}
