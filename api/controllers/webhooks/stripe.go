package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/angelmondragon/orderflow-backend/api/responses"
	"github.com/angelmondragon/orderflow-backend/internal/reconciler"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

// Stripe caps event payloads well below this.
const maxPayloadBytes = 1 << 20

const signatureHeader = "Stripe-Signature"

type EventHandler interface {
	HandleEvent(ctx context.Context, payload []byte, signatureHeader string) (reconciler.Ack, error)
}

// StripeWebhook hands the raw body to the reconciler. Verified deliveries are
// acknowledged with 200 even when applying them failed; the failure is kept on
// the stored event for replay.
func StripeWebhook(handler EventHandler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if handler == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook reconciler unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		ack, err := handler.HandleEvent(ctx, payload, r.Header.Get(signatureHeader))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, ack)
	}
}
