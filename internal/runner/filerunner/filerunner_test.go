package filerunner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVRoundTrip(t *testing.T) {
	rows := [][]string{{"name", "age"}, {"alice", "30"}, {"bob", "25"}}

	data, err := writeCSV(rows, ',')
	require.NoError(t, err)

	parsed, err := readCSV(data, ',')
	require.NoError(t, err)
	assert.Equal(t, rows, parsed)
}

func TestCSVRoundTrip_CustomDelimiter(t *testing.T) {
	rows := [][]string{{"a", "b"}, {"1", "2"}}

	data, err := writeCSV(rows, ';')
	require.NoError(t, err)

	parsed, err := readCSV(data, ';')
	require.NoError(t, err)
	assert.Equal(t, rows, parsed)
}

func TestDelimiterRune(t *testing.T) {
	assert.Equal(t, ',', delimiterRune(""))
	assert.Equal(t, ';', delimiterRune(";"))
	assert.Equal(t, '\t', delimiterRune("\t"))
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "report.csv", baseName("jobs/j1/executions/e1/report.csv"))
	assert.Equal(t, "report.csv", baseName("report.csv"))
}

func TestToRows_ObjectRows(t *testing.T) {
	output := map[string]any{
		"rows": []any{
			map[string]any{"id": float64(1), "name": "alice"},
			map[string]any{"id": float64(2), "name": "bob"},
		},
	}

	grid := toRows(output)
	require.Len(t, grid, 3)
	assert.ElementsMatch(t, []string{"id", "name"}, grid[0])
}

func TestToRows_ArrayRows(t *testing.T) {
	output := []any{
		[]any{"a", "b"},
		[]any{"c", "d"},
	}

	grid := toRows(output)
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}}, grid)
}

func TestToRows_EmptyRows(t *testing.T) {
	output := map[string]any{"rows": []any{}}
	assert.Nil(t, toRows(output))
}
