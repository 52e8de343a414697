package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zombor/medbill/internal/analysis"
	"github.com/zombor/medbill/internal/scanning"
)

// ErrUnsupportedImage is returned for uploads no model can read
var ErrUnsupportedImage = errors.New("invalid file type, please upload a JPG, PNG, WEBP, HEIC or PDF bill")

// DefaultCountry is used when the caller does not name a country
const DefaultCountry = "Nepal"

// Analyzer runs the two-phase bill analysis
type Analyzer interface {
	Analyze(ctx context.Context, img scanning.Image, req analysis.Request, progress analysis.ProgressFunc) (*analysis.Result, error)
}

// IDGenerator generates unique IDs for receipts
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.New().String()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service ties analysis, history and image storage together
type Service struct {
	db          DB
	analyzer    Analyzer
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, analyzer Analyzer, storage Storage) *Service {
	return NewServiceWithDeps(db, analyzer, storage, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, analyzer Analyzer, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		analyzer:    analyzer,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	// phone cameras produce very long names
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "bill"
	}
	return base + ext
}

// AnalyzeBill analyzes an uploaded bill and appends the sanitized result to history
func (s *Service) AnalyzeBill(ctx context.Context, filename string, data []byte, contentType, country, originCountry string, progress analysis.ProgressFunc) (*Receipt, error) {
	contentType = scanning.NormalizeContentType(data, contentType, filename)
	if !scanning.IsSupportedContentType(contentType) {
		return nil, fmt.Errorf("%w (got %s)", ErrUnsupportedImage, contentType)
	}

	country = strings.TrimSpace(country)
	if country == "" {
		country = DefaultCountry
	}
	originCountry = strings.TrimSpace(originCountry)
	if originCountry == "" {
		originCountry = country
	}

	img, err := scanning.PrepareImage(scanning.Image{Data: data, ContentType: contentType, Filename: filename})
	if err != nil {
		return nil, fmt.Errorf("preparing image: %w", err)
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	storedFile, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	result, err := s.analyzer.Analyze(ctx, img, analysis.Request{
		TargetCountry: country,
		OriginCountry: originCountry,
	}, progress)
	if err != nil {
		slog.Error("Failed to analyze bill",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		s.removeFile(storedFile)
		return nil, fmt.Errorf("analyzing bill: %w", err)
	}

	receipt := &Receipt{
		ID:            id,
		CreatedAt:     now,
		Filename:      filename,
		StoredFile:    storedFile,
		ContentType:   contentType,
		Country:       country,
		OriginCountry: originCountry,
		Result:        *analysis.Sanitize(result),
	}

	evicted, err := s.db.SaveReceipt(receipt)
	if err != nil {
		s.removeFile(storedFile)
		return nil, fmt.Errorf("saving receipt to history: %w", err)
	}
	for _, old := range evicted {
		s.removeFile(old.StoredFile)
	}

	if receipt.LocationMatch != nil && !receipt.LocationMatch.IsMatch {
		slog.Warn("Bill saved with location mismatch", "id", id, "warning", *receipt.LocationMatch.Warning)
	}
	return receipt, nil
}

func (s *Service) removeFile(name string) {
	if name == "" {
		return
	}
	if err := s.storage.Delete(name); err != nil {
		slog.Warn("Failed to delete file", "filename", name, "error", err)
	}
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(id string) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// ListReceipts returns history, newest first
func (s *Service) ListReceipts() ([]*Receipt, error) {
	receipts, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt and its stored image
func (s *Service) DeleteReceipt(id string) error {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	// A leftover file is harmless, a leftover history entry is not
	s.removeFile(receipt.StoredFile)

	if err := s.db.DeleteReceipt(id); err != nil {
		return fmt.Errorf("deleting receipt from history: %w", err)
	}
	return nil
}

// ClearHistory removes every receipt and stored image
func (s *Service) ClearHistory() error {
	removed, err := s.db.ClearReceipts()
	if err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	for _, r := range removed {
		s.removeFile(r.StoredFile)
	}
	slog.Info("History cleared", "receipts", len(removed))
	return nil
}

// GetReceiptFile retrieves the uploaded image for a receipt
func (s *Service) GetReceiptFile(id string) ([]byte, string, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}

	data, err := s.storage.Get(receipt.StoredFile)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}
	return data, receipt.ContentType, nil
}

// Statistics aggregates savings over the whole history
func (s *Service) Statistics() (*Statistics, error) {
	receipts, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}

	stats := &Statistics{TotalReceipts: len(receipts)}
	if len(receipts) == 0 {
		return stats, nil
	}

	savings := decimal.Zero
	original := decimal.Zero
	for _, r := range receipts {
		savings = savings.Add(decimal.NewFromFloat(r.TotalSavings))
		original = original.Add(decimal.NewFromFloat(r.OriginalTotal))
		if r.TotalSavings > 0 {
			stats.OverchargedCount++
		}
	}

	stats.TotalSavings = savings.InexactFloat64()
	stats.TotalSpent = original.Sub(savings).InexactFloat64()
	stats.AverageSavings = savings.Div(decimal.NewFromInt(int64(len(receipts)))).Round(2).InexactFloat64()
	if original.IsPositive() {
		stats.SavingsPercentage = savings.Div(original).Mul(decimal.NewFromInt(100)).Round(1).InexactFloat64()
	}
	return stats, nil
}

// ExportJSON writes the whole history as indented JSON
func (s *Service) ExportJSON(w io.Writer) error {
	receipts, err := s.db.ListReceipts()
	if err != nil {
		return fmt.Errorf("listing receipts: %w", err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(receipts); err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}
	return nil
}

// ExportFilename is the download name for an export taken now
func (s *Service) ExportFilename() string {
	return fmt.Sprintf("medbill-history-%s.json", s.timeSource.Now().Format("2006-01-02"))
}
