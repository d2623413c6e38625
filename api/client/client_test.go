package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/attend/api"
	"github.com/papercomputeco/attend/api/client"
	"github.com/papercomputeco/attend/pkg/entity"
	"github.com/papercomputeco/attend/pkg/pipeline"
)

var _ = Describe("Client", func() {
	var (
		ctx      context.Context
		srv      *httptest.Server
		c        *client.Client
		lastBody map[string]any
		lastPath string
	)

	BeforeEach(func() {
		ctx = context.Background()
		lastBody = nil

		mux := http.NewServeMux()
		mux.HandleFunc("POST /v1/earn", func(w http.ResponseWriter, r *http.Request) {
			lastPath = r.URL.Path
			Expect(r.Header.Get("Content-Type")).To(Equal("application/json"))
			Expect(json.NewDecoder(r.Body).Decode(&lastBody)).To(Succeed())
			_ = json.NewEncoder(w).Encode(api.BalanceResponse{Key: entity.MustParse("global:person:alice"), Balance: 5})
		})
		mux.HandleFunc("POST /v1/activity", func(w http.ResponseWriter, r *http.Request) {
			Expect(json.NewDecoder(r.Body).Decode(&lastBody)).To(Succeed())
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "unknown activity kind"})
		})
		mux.HandleFunc("POST /v1/pipelines/{name}/trigger", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(pipeline.RunRecord{ID: "run-1", Pipeline: r.PathValue("name"), Status: pipeline.StatusDry})
		})
		mux.HandleFunc("GET /ping", func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode("pong")
		})
		srv = httptest.NewServer(mux)
		DeferCleanup(srv.Close)

		var err error
		c, err = client.New(srv.URL, nil)
		Expect(err).NotTo(HaveOccurred())
	})

	It("pings", func() {
		Expect(c.Ping(ctx)).To(Succeed())
	})

	It("posts earns as JSON", func() {
		out, err := c.Earn(ctx, api.EarnRequest{Key: "global:person:alice", Amount: 5, Token: "t1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Balance).To(Equal(5.0))
		Expect(lastPath).To(Equal("/v1/earn"))
		Expect(lastBody).To(HaveKeyWithValue("token", "t1"))
	})

	It("surfaces the API error message", func() {
		_, err := c.Record(ctx, api.ActivityRequest{Key: "global:person:alice", Kind: "wave"})
		var statusErr *client.StatusError
		Expect(err).To(BeAssignableToTypeOf(statusErr))
		Expect(err.Error()).To(ContainSubstring("HTTP 400"))
		Expect(err.Error()).To(ContainSubstring("unknown activity kind"))
	})

	It("triggers pipelines by name", func() {
		run, err := c.Trigger(ctx, "social_digest")
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Pipeline).To(Equal("social_digest"))
		Expect(run.Status).To(Equal(pipeline.StatusDry))
	})

	It("reports unreachable servers", func() {
		dead, err := client.New("http://127.0.0.1:1", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(dead.Ping(ctx)).To(MatchError(ContainSubstring("failed to connect")))
	})
})
