package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableData(t *testing.T) {
	table := NewTableData("Name", "Node", "State")

	assert.Equal(t, []string{"Name", "Node", "State"}, table.Headers())
	assert.Empty(t, table.Rows())

	table.AddRow("pool-a", "node-1", "Online")
	table.AddRow("pool-b", "node-2", "Degraded")

	rows := table.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"pool-a", "node-1", "Online"}, rows[0])
	assert.Equal(t, []string{"pool-b", "node-2", "Degraded"}, rows[1])
}

func TestPrintTable(t *testing.T) {
	table := NewTableData("Name", "Value")
	table.AddRow("uuid", "n1")
	table.AddRow("size", "4096")

	var buf bytes.Buffer
	PrintTable(&buf, table)

	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "VALUE")
	assert.Contains(t, out, "uuid")
	assert.Contains(t, out, "n1")
	assert.Contains(t, out, "size")
	assert.Contains(t, out, "4096")
}

func TestPrintTable_NoRowsStillRendersHeader(t *testing.T) {
	table := NewTableData("Name")

	var buf bytes.Buffer
	PrintTable(&buf, table)

	assert.Contains(t, buf.String(), "NAME")
}
