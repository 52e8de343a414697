package receipt

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/medbill/internal/analysis"
	"github.com/zombor/medbill/internal/scanning"
)

// multipartBody builds an upload form with an optional file part
func multipartBody(filename, contentType string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if filename != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
		h.Set("Content-Type", contentType)
		part, err := writer.CreatePart(h)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
	}
	for k, v := range fields {
		Expect(writer.WriteField(k, v)).To(Succeed())
	}
	Expect(writer.Close()).To(Succeed())
	return body, writer.FormDataContentType()
}

func decodeError(resp *http.Response) string {
	var body map[string]string
	Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
	return body["error"]
}

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		analyzer    *mockAnalyzer
		cfg         ServerConfig
		server      *Server
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		analyzer = newMockAnalyzer()
		cfg = ServerConfig{}
	})

	JustBeforeEach(func() {
		service := NewServiceWithDeps(db, analyzer, storage,
			&mockIDGenerator{ids: []string{"id-1"}},
			&mockTimeSource{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)})
		server = NewServerWithMux(service, cfg, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.Handler().ServeHTTP)
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("handleAnalyzeBill", func() {
		var (
			filename    string
			contentType string
			data        []byte
			fields      map[string]string
			resp        *http.Response
		)

		BeforeEach(func() {
			filename = "bill.png"
			contentType = "image/png"
			data = pngHeader
			fields = map[string]string{"country": "Nepal", "originCountry": "Nepal"}
		})

		JustBeforeEach(func() {
			body, formType := multipartBody(filename, contentType, data, fields)
			var err error
			resp, err = http.Post(ghttpServer.URL()+"/api/analyses", formType, body)
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			resp.Body.Close()
		})

		When("the analysis succeeds", func() {
			It("returns 201 with the receipt and events", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var payload struct {
					Receipt *Receipt         `json:"receipt"`
					Events  []analysis.Event `json:"events"`
				}
				Expect(json.NewDecoder(resp.Body).Decode(&payload)).To(Succeed())
				Expect(payload.Receipt.ID).To(Equal("id-1"))
				Expect(payload.Receipt.TotalSavings).To(Equal(60.0))
				Expect(payload.Events).To(HaveLen(2))
				Expect(payload.Events[1].Phase).To(Equal(analysis.PhaseComplete))
			})

			It("passes the form countries through", func() {
				Expect(analyzer.lastReq).To(Equal(analysis.Request{TargetCountry: "Nepal", OriginCountry: "Nepal"}))
			})
		})

		When("no file is uploaded", func() {
			BeforeEach(func() {
				filename = ""
			})

			It("returns 400", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp)).To(ContainSubstring("No file was selected"))
			})
		})

		When("the file is too large", func() {
			BeforeEach(func() {
				cfg.MaxUploadBytes = 1 << 20
				data = bytes.Repeat([]byte("a"), 3<<19)
			})

			It("returns 413", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusRequestEntityTooLarge))
				Expect(decodeError(resp)).To(ContainSubstring("Maximum size is 1MB"))
			})
		})

		When("the file type is unsupported", func() {
			BeforeEach(func() {
				filename = "notes.txt"
				contentType = "text/plain"
				data = []byte("hello")
			})

			It("returns 415", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusUnsupportedMediaType))
				Expect(decodeError(resp)).To(Equal(ErrUnsupportedImage.Error()))
			})
		})

		When("the PDF is unreadable", func() {
			BeforeEach(func() {
				filename = "bill.pdf"
				contentType = "application/pdf"
				data = []byte("%PDF-1.4 truncated")
			})

			It("returns 422", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				Expect(decodeError(resp)).To(Equal(scanning.ErrUnreadableImage.Error()))
			})
		})

		When("the model output fails reconciliation", func() {
			BeforeEach(func() {
				analyzer.err = &analysis.StageError{
					State: analysis.StateAnalyzing,
					Err:   &analysis.ReconciliationError{Errors: []string{"Optimized total (200) cannot be greater than original total (100)"}},
				}
			})

			It("returns 422 with the first error", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				Expect(decodeError(resp)).To(Equal("Optimized total (200) cannot be greater than original total (100)"))
			})
		})

		When("the model is rate limited", func() {
			BeforeEach(func() {
				analyzer.err = &analysis.StageError{
					State: analysis.StateDetecting,
					Err:   &scanning.TransportError{Category: scanning.ErrRateLimited, StatusCode: 429},
				}
			})

			It("returns 429 with the friendly message", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusTooManyRequests))
				Expect(decodeError(resp)).To(Equal(scanning.ErrRateLimited.Error()))
			})
		})

		When("the model key is invalid", func() {
			BeforeEach(func() {
				analyzer.err = &analysis.StageError{
					State: analysis.StateDetecting,
					Err:   &scanning.TransportError{Category: scanning.ErrUnauthorized, StatusCode: 401},
				}
			})

			It("returns 502", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
			})
		})

		When("the model times out", func() {
			BeforeEach(func() {
				analyzer.err = &analysis.StageError{
					State: analysis.StateAnalyzing,
					Err:   &scanning.TransportError{Category: scanning.ErrNetwork},
				}
			})

			It("returns 504", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusGatewayTimeout))
			})
		})
	})

	Describe("history endpoints", func() {
		BeforeEach(func() {
			db.receipts = []*Receipt{
				{ID: "a", StoredFile: "a.png", ContentType: "image/png", Result: analysis.Result{OriginalTotal: 100, TotalSavings: 20}},
				{ID: "b", StoredFile: "b.png", ContentType: "image/png", Result: analysis.Result{OriginalTotal: 100, TotalSavings: 0}},
			}
			storage.files["a.png"] = []byte("png-a")
			storage.files["b.png"] = []byte("png-b")
		})

		It("lists receipts newest first", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/receipts")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

			var receipts []*Receipt
			Expect(json.NewDecoder(resp.Body).Decode(&receipts)).To(Succeed())
			Expect(receipts).To(HaveLen(2))
			Expect(receipts[0].ID).To(Equal("b"))
		})

		It("gets one receipt", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/receipts/a")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("returns 404 for an unknown receipt", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/receipts/missing")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("serves the stored file", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/receipts/a/file")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal("png-a"))
		})

		It("deletes one receipt", func() {
			req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+"/api/receipts/a", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(db.receipts).To(HaveLen(1))
			Expect(storage.files).NotTo(HaveKey("a.png"))
		})

		It("returns 404 when deleting an unknown receipt", func() {
			req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+"/api/receipts/missing", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("clears history", func() {
			req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+"/api/receipts", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(db.receipts).To(BeEmpty())
			Expect(storage.files).To(BeEmpty())
		})

		It("reports statistics", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/statistics")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var stats Statistics
			Expect(json.NewDecoder(resp.Body).Decode(&stats)).To(Succeed())
			Expect(stats.TotalReceipts).To(Equal(2))
			Expect(stats.TotalSavings).To(Equal(20.0))
			Expect(stats.OverchargedCount).To(Equal(1))
			Expect(stats.SavingsPercentage).To(Equal(10.0))
		})

		It("exports history as an attachment", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/export")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Disposition")).To(Equal(`attachment; filename="medbill-history-2024-01-15.json"`))

			var exported []*Receipt
			Expect(json.NewDecoder(resp.Body).Decode(&exported)).To(Succeed())
			Expect(exported).To(HaveLen(2))
		})
	})

	Describe("handleHealth", func() {
		It("returns ok", func() {
			resp, err := http.Get(ghttpServer.URL() + "/healthz")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("CORS", func() {
		It("answers preflight requests", func() {
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/api/analyses", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			cfg.BasicAuth = BasicAuth{Username: "user", Password: "pass"}
		})

		When("credentials are missing", func() {
			It("returns 401", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			})
		})

		When("credentials are correct", func() {
			It("returns 200", func() {
				req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/receipts", nil)
				Expect(err).NotTo(HaveOccurred())
				req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("user:pass")))
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			})
		})

		When("credentials are wrong", func() {
			It("returns 401", func() {
				req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/receipts", nil)
				Expect(err).NotTo(HaveOccurred())
				req.SetBasicAuth("user", "wrong")
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			})
		})

		It("leaves the health check open", func() {
			resp, err := http.Get(ghttpServer.URL() + "/healthz")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})
})
