package resolve

import (
	"github.com/jackc/pgx/v5"
)

// scanRowsToMaps converts pgx rows to a slice of maps keyed by column name
func scanRowsToMaps(rows pgx.Rows) ([]map[string]interface{}, error) {
	defer rows.Close()

	descriptions := rows.FieldDescriptions()
	var results []map[string]interface{}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(descriptions))
		for i, desc := range descriptions {
			row[desc.Name] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}
