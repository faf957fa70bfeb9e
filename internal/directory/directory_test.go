package directory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

var testColumns = Columns{
	Supervisor: "A",
	Gender:     "B",
	Firstname:  "D",
	Lastname:   "E",
	CardUID:    "K",
}

// writeWorkbook builds a workbook with one row per entry:
// supervisor, gender, firstname, lastname, uid.
func writeWorkbook(t *testing.T, path string, sheets map[string][][5]string) {
	t.Helper()

	f := excelize.NewFile()
	first := true
	for name, rows := range sheets {
		if first {
			require.NoError(t, f.SetSheetName("Sheet1", name))
			first = false
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for i, row := range rows {
			rowNum := i + 1
			require.NoError(t, f.SetCellValue(name, cellName(t, "A", rowNum), row[0]))
			require.NoError(t, f.SetCellValue(name, cellName(t, "B", rowNum), row[1]))
			require.NoError(t, f.SetCellValue(name, cellName(t, "D", rowNum), row[2]))
			require.NoError(t, f.SetCellValue(name, cellName(t, "E", rowNum), row[3]))
			require.NoError(t, f.SetCellValue(name, cellName(t, "K", rowNum), row[4]))
		}
	}
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())
}

func cellName(t *testing.T, col string, row int) string {
	t.Helper()
	n, err := excelize.ColumnNameToNumber(col)
	require.NoError(t, err)
	name, err := excelize.CoordinatesToCellName(n, row)
	require.NoError(t, err)
	return name
}

func newTestDirectory(t *testing.T, sheets map[string][][5]string, worksheets ...string) (*Directory, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "members.xlsx")
	writeWorkbook(t, path, sheets)

	d, err := New(Config{
		Path:       path,
		Worksheets: worksheets,
		Columns:    testColumns,
	}, zap.NewNop())
	require.NoError(t, err)
	return d, path
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Worksheets: []string{"Members"}, Columns: testColumns}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")

	_, err = New(Config{Path: "x.xlsx", Columns: testColumns}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worksheet")

	path := filepath.Join(t.TempDir(), "members.xlsx")
	writeWorkbook(t, path, map[string][][5]string{"Members": {}})
	_, err = New(Config{Path: path, Worksheets: []string{"Missing"}, Columns: testColumns}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLookup(t *testing.T) {
	d, _ := newTestDirectory(t, map[string][][5]string{
		"Members": {
			{"Chef, Eine", "w", "Anna", "Muster", "04AA11"},
			{"Chef, Zwei", "m", "Bernd", "Beispiel", "04BB22"},
		},
	}, "Members")

	member, err := d.Lookup("04BB22")
	require.NoError(t, err)
	assert.Equal(t, "Bernd Beispiel", member.Name)
	assert.Equal(t, "Beispiel, Bernd", member.ContactAddress)
	assert.Equal(t, "Chef, Zwei", member.SupervisorAddress)
	assert.Equal(t, "m", member.Gender)
	assert.False(t, member.GuestCard)
}

func TestLookup_CaseInsensitive(t *testing.T) {
	d, _ := newTestDirectory(t, map[string][][5]string{
		"Members": {{"Chef, Eine", "w", "Anna", "Muster", "04aaBB"}},
	}, "Members")

	member, err := d.Lookup("04AAbb")
	require.NoError(t, err)
	assert.Equal(t, "Anna Muster", member.Name)
}

func TestLookup_NotFound(t *testing.T) {
	d, _ := newTestDirectory(t, map[string][][5]string{
		"Members": {{"Chef, Eine", "w", "Anna", "Muster", "04AA11"}},
	}, "Members")

	_, err := d.Lookup("FFFF")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLookup_WorksheetOrder(t *testing.T) {
	d, _ := newTestDirectory(t, map[string][][5]string{
		"Staff":  {{"Chef, Eine", "w", "Anna", "Staff", "04AA11"}},
		"Guests": {{"Chef, Zwei", "w", "Anna", "Guest", "04AA11"}},
	}, "Staff", "Guests")

	member, err := d.Lookup("04AA11")
	require.NoError(t, err)
	assert.Equal(t, "Anna Staff", member.Name, "first configured worksheet wins")
}

func TestLookup_GuestCard(t *testing.T) {
	d, _ := newTestDirectory(t, map[string][][5]string{
		"Members": {{"Chef, Eine", "", "", "Gästekarte", "04GG77"}},
	}, "Members")

	member, err := d.Lookup("04GG77")
	require.NoError(t, err)
	assert.True(t, member.GuestCard)
	assert.Empty(t, member.ContactAddress, "guest cards have no personal address")
	assert.Equal(t, "Chef, Eine", member.SupervisorAddress)
}

func TestLookup_PartialNames(t *testing.T) {
	d, _ := newTestDirectory(t, map[string][][5]string{
		"Members": {
			{"", "", "Anna", "", "04AA11"},
			{"", "", "", "Muster", "04BB22"},
			{"", "", "", "", "04CC33"},
		},
	}, "Members")

	m, err := d.Lookup("04AA11")
	require.NoError(t, err)
	assert.Equal(t, "Anna", m.Name)
	assert.Equal(t, "Anna", m.ContactAddress)

	m, err = d.Lookup("04BB22")
	require.NoError(t, err)
	assert.Equal(t, "Muster", m.Name)
	assert.Equal(t, "Muster", m.ContactAddress)

	m, err = d.Lookup("04CC33")
	require.NoError(t, err)
	assert.Equal(t, "Unbekannt", m.Name)
}

func TestRemove(t *testing.T) {
	d, path := newTestDirectory(t, map[string][][5]string{
		"Members": {
			{"Chef, Eine", "w", "Anna", "Muster", "04AA11"},
			{"Chef, Zwei", "m", "Bernd", "Beispiel", "04BB22"},
		},
	}, "Members")

	require.NoError(t, d.Remove("04AA11"))

	// A backup was written before the change.
	_, err := os.Stat(path + ".backup")
	require.NoError(t, err)

	// The removed row is gone, the other survives.
	_, err = d.Lookup("04AA11")
	assert.ErrorIs(t, err, ErrNotFound)
	member, err := d.Lookup("04BB22")
	require.NoError(t, err)
	assert.Equal(t, "Bernd Beispiel", member.Name)

	count, err := d.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRemove_AbsentUIDIsNoop(t *testing.T) {
	d, _ := newTestDirectory(t, map[string][][5]string{
		"Members": {{"Chef, Eine", "w", "Anna", "Muster", "04AA11"}},
	}, "Members")

	require.NoError(t, d.Remove("FFFF"))

	count, err := d.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCount(t *testing.T) {
	d, _ := newTestDirectory(t, map[string][][5]string{
		"Staff":  {{"s", "w", "A", "B", "04AA11"}, {"s", "m", "C", "D", "04BB22"}},
		"Guests": {{"s", "", "", "Gästekarte", "04GG77"}},
	}, "Staff", "Guests")

	count, err := d.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestColumnIndex(t *testing.T) {
	tests := []struct {
		letter string
		want   int
	}{
		{"A", 0},
		{"B", 1},
		{"K", 10},
		{"Z", 25},
		{"AA", 26},
	}
	for _, tt := range tests {
		got, err := columnIndex(tt.letter)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.letter)
	}

	_, err := columnIndex("")
	require.Error(t, err)
}
