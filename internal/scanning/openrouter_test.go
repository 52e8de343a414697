package scanning

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("OpenRouter", func() {
	var (
		server  *ghttp.Server
		scanner *OpenRouter
		text    string
		err     error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var newErr error
		scanner, newErr = NewOpenRouter(OpenRouterConfig{
			APIKey:  "test-key",
			Model:   "test/vision-model",
			BaseURL: server.URL(),
		})
		Expect(newErr).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		text, err = scanner.Scan(context.Background(), Image{Data: pngData, ContentType: "image/png"}, "find the prices")
	})

	When("the API answers", func() {
		var captured openRouterRequest

		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/chat/completions"),
				ghttp.VerifyHeaderKV("Authorization", "Bearer test-key"),
				ghttp.VerifyHeaderKV("X-Title", "MedBill Analyzer"),
				func(w http.ResponseWriter, r *http.Request) {
					body, readErr := io.ReadAll(r.Body)
					Expect(readErr).NotTo(HaveOccurred())
					Expect(json.Unmarshal(body, &captured)).To(Succeed())
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"model": "test/vision-model",
					"choices": []any{
						map[string]any{"message": map[string]any{"role": "assistant", "content": `{"detectedCountry": "Nepal"}`}},
					},
					"usage": map[string]any{"prompt_tokens": 100, "completion_tokens": 20},
				}),
			))
		})

		It("returns the message content", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal(`{"detectedCountry": "Nepal"}`))
		})

		It("sends the image as a data URL before the prompt", func() {
			Expect(captured.Model).To(Equal("test/vision-model"))
			Expect(captured.Temperature).To(Equal(0.3))
			Expect(captured.MaxTokens).To(Equal(DefaultMaxTokens))
			Expect(captured.Messages).To(HaveLen(1))

			content := captured.Messages[0].Content
			Expect(content).To(HaveLen(2))
			Expect(content[0].Type).To(Equal("image_url"))
			Expect(content[0].ImageURL.URL).To(Equal("data:image/png;base64," + base64.StdEncoding.EncodeToString(pngData)))
			Expect(content[1]).To(Equal(openRouterContent{Type: "text", Text: "find the prices"}))
		})
	})

	When("the API rate limits", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusTooManyRequests, map[string]any{
				"error": map[string]any{"message": "Rate limit exceeded"},
			}))
		})

		It("returns a rate limit error with the upstream message", func() {
			Expect(err).To(MatchError(ErrRateLimited))
			var te *TransportError
			Expect(errors.As(err, &te)).To(BeTrue())
			Expect(te.StatusCode).To(Equal(http.StatusTooManyRequests))
			Expect(te.Message).To(Equal("Rate limit exceeded"))
		})
	})

	When("the API key is rejected", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusUnauthorized, map[string]any{
				"error": map[string]any{"message": "No auth credentials found"},
			}))
		})

		It("returns an unauthorized error", func() {
			Expect(err).To(MatchError(ErrUnauthorized))
		})
	})

	When("the API fails", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "oops"))
		})

		It("returns a generic API error", func() {
			Expect(err).To(MatchError(ErrAPI))
		})
	})

	When("the API returns no choices", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"choices": []any{}}))
		})

		It("returns a generic API error", func() {
			Expect(err).To(MatchError(ErrAPI))
			Expect(text).To(BeEmpty())
		})
	})

	When("the image cannot be prepared", func() {
		It("does not call the API", func() {
			_, scanErr := scanner.Scan(context.Background(), Image{Data: []byte("GIF89a"), ContentType: "image/gif"}, "prompt")
			Expect(scanErr).To(MatchError(ContainSubstring("unsupported image format")))
		})
	})
})

var _ = Describe("NewOpenRouter", func() {
	It("requires an API key", func() {
		_, err := NewOpenRouter(OpenRouterConfig{})
		Expect(err).To(MatchError(ErrUnauthorized))
	})

	It("fills in defaults", func() {
		scanner, err := NewOpenRouter(OpenRouterConfig{APIKey: "key"})
		Expect(err).NotTo(HaveOccurred())
		Expect(scanner.cfg.BaseURL).To(Equal(OpenRouterBaseURL))
		Expect(scanner.cfg.MaxTokens).To(Equal(DefaultMaxTokens))
		Expect(scanner.cfg.Temperature).To(Equal(0.3))
		Expect(scanner.cfg.Title).To(Equal("MedBill Analyzer"))
	})

	It("sends the configured limit and referer", func() {
		server := ghttp.NewServer()
		defer server.Close()

		var captured openRouterRequest
		server.AppendHandlers(ghttp.CombineHandlers(
			ghttp.VerifyHeaderKV("HTTP-Referer", "https://bills.example.np"),
			func(w http.ResponseWriter, r *http.Request) {
				Expect(json.NewDecoder(r.Body).Decode(&captured)).To(Succeed())
			},
			ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"choices": []any{map[string]any{"message": map[string]any{"content": "{}"}}},
			}),
		))

		scanner, err := NewOpenRouter(OpenRouterConfig{
			APIKey:    "key",
			BaseURL:   server.URL(),
			MaxTokens: 512,
			Referer:   "https://bills.example.np",
		})
		Expect(err).NotTo(HaveOccurred())

		_, err = scanner.Scan(context.Background(), Image{Data: pngData, ContentType: "image/png"}, "prompt")
		Expect(err).NotTo(HaveOccurred())
		Expect(captured.MaxTokens).To(Equal(512))
	})
})
