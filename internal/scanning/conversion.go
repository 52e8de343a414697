package scanning

import (
	"bytes"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// ErrUnreadableImage is returned when a PDF or HEIC upload cannot be converted
var ErrUnreadableImage = errors.New("could not read the uploaded file, please upload a clear photo or PDF of the bill")

// mime types every supported model accepts without conversion
var passthroughTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// pdfToPNG renders the first page of a PDF as PNG
func pdfToPNG(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	// Bills are scanned one page at a time
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// heicToPNG decodes an iPhone HEIC/HEIF photo and re-encodes it as PNG
func heicToPNG(data []byte) ([]byte, error) {
	img, err := heic.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat checks the ftyp box brand HEIC files start with
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	brand := string(data[8:12])
	return brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1"
}

// NormalizeContentType resolves the MIME type of an upload from its declared
// type, falling back to the file extension and then to content sniffing
func NormalizeContentType(data []byte, declared, filename string) string {
	mimeType := strings.ToLower(strings.TrimSpace(declared))
	if i := strings.Index(mimeType, ";"); i != -1 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "image/jpg" {
		mimeType = "image/jpeg"
	}

	if isHEICFormat(data) {
		return "image/heic"
	}
	if mimeType != "" && mimeType != "application/octet-stream" {
		return mimeType
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	case ".pdf":
		return "application/pdf"
	}

	return http.DetectContentType(data)
}

// IsSupportedContentType reports whether an upload of this type can be sent to a model
func IsSupportedContentType(mimeType string) bool {
	return passthroughTypes[mimeType] || mimeType == "application/pdf" ||
		mimeType == "image/heic" || mimeType == "image/heif"
}

// prepareImage returns image bytes and a MIME type the model APIs accept.
// JPEG, PNG and WEBP pass through untouched; PDF and HEIC are transcoded to PNG.
func prepareImage(img Image) ([]byte, string, error) {
	mimeType := NormalizeContentType(img.Data, img.ContentType, img.Filename)

	switch {
	case passthroughTypes[mimeType]:
		return img.Data, mimeType, nil
	case mimeType == "application/pdf":
		data, err := pdfToPNG(img.Data)
		if err != nil {
			return nil, "", fmt.Errorf("%w: converting PDF to image: %v", ErrUnreadableImage, err)
		}
		return data, "image/png", nil
	case mimeType == "image/heic" || mimeType == "image/heif":
		data, err := heicToPNG(img.Data)
		if err != nil {
			return nil, "", fmt.Errorf("%w: converting HEIC to image: %v", ErrUnreadableImage, err)
		}
		return data, "image/png", nil
	default:
		return nil, "", fmt.Errorf("unsupported image format %q. Supported formats: JPEG, PNG, WEBP, HEIC, HEIF, PDF", mimeType)
	}
}

// PrepareImage converts img into a form every scanner sends as-is.
// Scanners call prepareImage again, which passes the result through.
func PrepareImage(img Image) (Image, error) {
	data, mimeType, err := prepareImage(img)
	if err != nil {
		return Image{}, err
	}
	return Image{Data: data, ContentType: mimeType, Filename: img.Filename}, nil
}
