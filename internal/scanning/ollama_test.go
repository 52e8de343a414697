package scanning

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server  *ghttp.Server
		scanner *Ollama
		ctx     context.Context
		cancel  context.CancelFunc
		text    string
		err     error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var newErr error
		scanner, newErr = NewOllama(server.URL(), "llava")
		Expect(newErr).NotTo(HaveOccurred())
		ctx, cancel = context.WithCancel(context.Background())
	})

	AfterEach(func() {
		cancel()
		server.Close()
	})

	JustBeforeEach(func() {
		text, err = scanner.Scan(ctx, Image{Data: jpegData, ContentType: "image/jpeg"}, "find the prices")
	})

	When("the server answers", func() {
		var captured ollamaChatRequest

		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
				ghttp.VerifyContentType("application/json"),
				func(w http.ResponseWriter, r *http.Request) {
					Expect(json.NewDecoder(r.Body).Decode(&captured)).To(Succeed())
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"message": map[string]any{"role": "assistant", "content": `{"items": []}`},
					"done":    true,
				}),
			))
		})

		It("returns the message content", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal(`{"items": []}`))
		})

		It("asks for JSON and attaches the image to the user message", func() {
			Expect(captured.Model).To(Equal("llava"))
			Expect(captured.Format).To(Equal("json"))
			Expect(captured.Stream).To(BeFalse())
			Expect(captured.Messages).To(HaveLen(2))
			Expect(captured.Messages[1].Content).To(Equal("find the prices"))
			Expect(captured.Messages[1].Images).To(ConsistOf(base64.StdEncoding.EncodeToString(jpegData)))
		})
	})

	When("the server is overloaded", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusTooManyRequests, "busy"))
		})

		It("returns a rate limit error", func() {
			Expect(err).To(MatchError(ErrRateLimited))
		})
	})

	When("the caller gives up", func() {
		BeforeEach(func() {
			server.AppendHandlers(func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			})
			var timeoutCancel context.CancelFunc
			ctx, timeoutCancel = context.WithTimeout(ctx, 20*time.Millisecond)
			DeferCleanup(timeoutCancel)
		})

		It("returns a network error", func() {
			Expect(err).To(MatchError(ErrNetwork))
		})
	})
})
