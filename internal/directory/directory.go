package directory

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// guestCardMarker in the lastname column flags a shared guest card.
const guestCardMarker = "gästekarte"

// blankColumns is how many leading columns a removal clears per row.
const blankColumns = 11

// ErrNotFound is returned when no row matches the card UID.
var ErrNotFound = errors.New("identity not found in directory")

// Columns maps the fields the directory reads to spreadsheet column
// letters.
type Columns struct {
	Supervisor string `koanf:"supervisor"`
	Gender     string `koanf:"gender"`
	Firstname  string `koanf:"firstname"`
	Lastname   string `koanf:"lastname"`
	CardUID    string `koanf:"card_uid"`
}

// Config configures the spreadsheet directory.
type Config struct {
	Path       string   `koanf:"path"`
	Worksheets []string `koanf:"worksheets"`
	Columns    Columns  `koanf:"columns"`
}

// Member is one resolved identity.
type Member struct {
	CardUID   string
	Name      string
	Firstname string
	Lastname  string
	Gender    string

	// ContactAddress is the member's mail address in the directory's
	// "Lastname, Firstname" convention. Empty for guest cards.
	ContactAddress string

	// SupervisorAddress comes straight from the supervisor column,
	// which already uses the same convention.
	SupervisorAddress string

	// GuestCard marks shared cards that have no personal owner. Mail
	// for these goes to the supervisor only.
	GuestCard bool
}

// Directory looks identities up in a spreadsheet workbook.
type Directory struct {
	cfg    Config
	logger *zap.Logger

	colSupervisor int
	colGender     int
	colFirstname  int
	colLastname   int
	colCardUID    int
}

// New validates the column configuration and checks the workbook is
// readable with every configured worksheet present.
func New(cfg Config, logger *zap.Logger) (*Directory, error) {
	if cfg.Path == "" {
		return nil, errors.New("directory path is required")
	}
	if len(cfg.Worksheets) == 0 {
		return nil, errors.New("at least one worksheet is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Directory{cfg: cfg, logger: logger}

	var err error
	if d.colSupervisor, err = columnIndex(cfg.Columns.Supervisor); err != nil {
		return nil, fmt.Errorf("invalid supervisor column: %w", err)
	}
	if d.colGender, err = columnIndex(cfg.Columns.Gender); err != nil {
		return nil, fmt.Errorf("invalid gender column: %w", err)
	}
	if d.colFirstname, err = columnIndex(cfg.Columns.Firstname); err != nil {
		return nil, fmt.Errorf("invalid firstname column: %w", err)
	}
	if d.colLastname, err = columnIndex(cfg.Columns.Lastname); err != nil {
		return nil, fmt.Errorf("invalid lastname column: %w", err)
	}
	if d.colCardUID, err = columnIndex(cfg.Columns.CardUID); err != nil {
		return nil, fmt.Errorf("invalid card UID column: %w", err)
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// columnIndex converts a spreadsheet column letter to a zero-based index.
func columnIndex(letter string) (int, error) {
	if letter == "" {
		return 0, errors.New("column letter is empty")
	}
	n, err := excelize.ColumnNameToNumber(letter)
	if err != nil {
		return 0, err
	}
	return n - 1, nil
}

// Validate opens the workbook and checks every configured worksheet
// exists.
func (d *Directory) Validate() error {
	f, err := excelize.OpenFile(d.cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to open directory workbook: %w", err)
	}
	defer f.Close()

	available := make(map[string]bool, len(f.GetSheetList()))
	for _, name := range f.GetSheetList() {
		available[name] = true
	}
	for _, name := range d.cfg.Worksheets {
		if !available[name] {
			return fmt.Errorf("worksheet %q not found in directory workbook", name)
		}
	}
	return nil
}

// Lookup resolves a card UID to a member, searching worksheets in
// configured order and matching UIDs case-insensitively. The first
// matching row wins.
func (d *Directory) Lookup(cardUID string) (*Member, error) {
	f, err := excelize.OpenFile(d.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open directory workbook: %w", err)
	}
	defer f.Close()

	for _, sheet := range d.cfg.Worksheets {
		member, err := d.searchSheet(f, sheet, cardUID)
		if err != nil {
			d.logger.Error("failed to search worksheet",
				zap.String("worksheet", sheet),
				zap.Error(err))
			continue
		}
		if member != nil {
			return member, nil
		}
	}

	d.logger.Info("card UID not found in directory", zap.String("card_uid", cardUID))
	return nil, ErrNotFound
}

func (d *Directory) searchSheet(f *excelize.File, sheet, cardUID string) (*Member, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read worksheet rows: %w", err)
	}

	for _, row := range rows {
		uid := strings.TrimSpace(cell(row, d.colCardUID))
		if uid == "" || !strings.EqualFold(uid, cardUID) {
			continue
		}

		firstname := strings.TrimSpace(cell(row, d.colFirstname))
		lastname := strings.TrimSpace(cell(row, d.colLastname))
		supervisor := strings.TrimSpace(cell(row, d.colSupervisor))
		gender := strings.TrimSpace(cell(row, d.colGender))
		guest := strings.EqualFold(lastname, guestCardMarker)

		member := &Member{
			CardUID:           uid,
			Name:              fullName(firstname, lastname),
			Firstname:         firstname,
			Lastname:          lastname,
			Gender:            gender,
			SupervisorAddress: supervisor,
			GuestCard:         guest,
		}
		if !guest {
			member.ContactAddress = contactAddress(lastname, firstname)
		}

		if guest {
			d.logger.Info("resolved guest card",
				zap.String("card_uid", uid),
				zap.String("supervisor", supervisor))
		} else {
			d.logger.Info("resolved member",
				zap.String("card_uid", uid),
				zap.String("name", member.Name),
				zap.String("worksheet", sheet))
		}
		return member, nil
	}
	return nil, nil
}

// cell returns a row cell by index, tolerating short rows.
func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func fullName(firstname, lastname string) string {
	switch {
	case firstname != "" && lastname != "":
		return firstname + " " + lastname
	case firstname != "":
		return firstname
	case lastname != "":
		return lastname
	default:
		return "Unbekannt"
	}
}

// contactAddress builds the directory's "Lastname, Firstname" mail
// address convention.
func contactAddress(lastname, firstname string) string {
	switch {
	case lastname != "" && firstname != "":
		return lastname + ", " + firstname
	case lastname != "":
		return lastname
	default:
		return firstname
	}
}

// Remove blanks every row matching the card UID across all configured
// worksheets. A backup copy of the workbook is written first. Rows are
// blanked rather than deleted so row positions elsewhere in the
// workbook stay stable.
func (d *Directory) Remove(cardUID string) error {
	if err := d.backup(); err != nil {
		return err
	}

	f, err := excelize.OpenFile(d.cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to open directory workbook: %w", err)
	}
	defer f.Close()

	total := 0
	for _, sheet := range d.cfg.Worksheets {
		cleared, err := d.blankRows(f, sheet, cardUID)
		if err != nil {
			d.logger.Error("failed to clear rows in worksheet",
				zap.String("worksheet", sheet),
				zap.Error(err))
			continue
		}
		total += cleared
	}

	if total == 0 {
		d.logger.Info("no directory rows to remove", zap.String("card_uid", cardUID))
		return nil
	}

	if err := f.Save(); err != nil {
		return fmt.Errorf("failed to save directory workbook: %w", err)
	}
	d.logger.Info("removed identity from directory",
		zap.String("card_uid", cardUID),
		zap.Int("rows_cleared", total))
	return nil
}

func (d *Directory) blankRows(f *excelize.File, sheet, cardUID string) (int, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return 0, fmt.Errorf("failed to read worksheet rows: %w", err)
	}

	cleared := 0
	for i, row := range rows {
		uid := strings.TrimSpace(cell(row, d.colCardUID))
		if uid == "" || !strings.EqualFold(uid, cardUID) {
			continue
		}
		for col := 1; col <= blankColumns; col++ {
			name, err := excelize.CoordinatesToCellName(col, i+1)
			if err != nil {
				return cleared, err
			}
			if err := f.SetCellValue(sheet, name, nil); err != nil {
				return cleared, fmt.Errorf("failed to blank cell %s: %w", name, err)
			}
		}
		cleared++
	}
	return cleared, nil
}

// backup copies the workbook next to itself before a destructive write.
func (d *Directory) backup() error {
	data, err := os.ReadFile(d.cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to read workbook for backup: %w", err)
	}
	backupPath := d.cfg.Path + ".backup"
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write workbook backup: %w", err)
	}
	d.logger.Info("wrote directory backup", zap.String("path", backupPath))
	return nil
}

// Count returns the number of rows with a card UID across all
// configured worksheets.
func (d *Directory) Count() (int, error) {
	f, err := excelize.OpenFile(d.cfg.Path)
	if err != nil {
		return 0, fmt.Errorf("failed to open directory workbook: %w", err)
	}
	defer f.Close()

	total := 0
	for _, sheet := range d.cfg.Worksheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		for _, row := range rows {
			if strings.TrimSpace(cell(row, d.colCardUID)) != "" {
				total++
			}
		}
	}
	return total, nil
}
