// Package api exposes the compliance engine over REST: certificate
// lifecycle, invoice signing, chain verification and the audit trail. All
// routes are scoped by organisation.
package api

import (
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/hazimsaleh/fatoora/audit"
	"github.com/hazimsaleh/fatoora/cert"
	"github.com/hazimsaleh/fatoora/rotation"
	"github.com/hazimsaleh/fatoora/sign"
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	manager   *cert.Manager
	signer    *sign.Signer
	scheduler *rotation.Scheduler
	log       *audit.Log
	logger    *slog.Logger
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for request logging. If not set, a
// default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger.With("component", "api")
	}
}

// New creates a new API instance.
func New(manager *cert.Manager, signer *sign.Signer, scheduler *rotation.Scheduler, log *audit.Log, opts ...Option) *API {
	a := &API{
		manager:   manager,
		signer:    signer,
		scheduler: scheduler,
		log:       log,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil)).With("component", "api")
	}
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(a.requestLogger)
	r.Use(a.recoverer)

	r.Get("/healthz", a.Health)

	r.Route("/orgs/{orgID}", func(r chi.Router) {
		r.Post("/certificates", a.CreateCertificate)
		r.Get("/certificates", a.ListCertificates)
		r.Get("/certificates/{certID}", a.GetCertificate)
		r.Post("/certificates/{certID}/approve", a.ApproveCertificate)
		r.Post("/certificates/{certID}/activate", a.ActivateCertificate)
		r.Post("/certificates/{certID}/revoke", a.RevokeCertificate)
		r.Get("/certificates/{certID}/expiry", a.CheckExpiry)
		r.Post("/certificates/{certID}/renew", a.RenewCertificate)
		r.Get("/rotations", a.ListRotations)

		r.Post("/invoices/sign", a.SignInvoice)
		r.Get("/chains/{certType}/verify", a.VerifyChain)
		r.Get("/chains/{certType}/records", a.ListSigningRecords)

		r.Get("/audit", a.ListAudit)
	})

	return r
}
