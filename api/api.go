/*
 *  DataNova exchange holds the settlement logic for dataset access
 *  Copyright (C) 2026 DataNova community
 *
 *  This program is free software: you can redistribute it and/or modify
 *  it under the terms of the GNU General Public License as published by
 *  the Free Software Foundation, either version 3 of the License, or
 *  (at your option) any later version.
 *
 *  This program is distributed in the hope that it will be useful,
 *  but WITHOUT ANY WARRANTY; without even the implied warranty of
 *  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 *  GNU General Public License for more details.
 *
 *  You should have received a copy of the GNU General Public License
 *  along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/datanova-ai/datanova-exchange/analysis"
	"github.com/datanova-ai/datanova-exchange/domain"
	"github.com/datanova-ai/datanova-exchange/pkg"
	"github.com/datanova-ai/datanova-exchange/registry"
)

// Wrapper provides the implementation of ServerInterface on top of the exchange.
type Wrapper struct {
	Cl pkg.ExchangeClient
}

var statusByKind = map[domain.Kind]int{
	domain.KindValidation:   http.StatusBadRequest,
	domain.KindNotFound:     http.StatusNotFound,
	domain.KindConflict:     http.StatusConflict,
	domain.KindInvalidState: http.StatusConflict,
	domain.KindDuplicate:    http.StatusConflict,
	domain.KindForbidden:    http.StatusForbidden,
	domain.KindIntegrity:    http.StatusUnprocessableEntity,
	domain.KindSubmission:   http.StatusUnprocessableEntity,
	domain.KindUnavailable:  http.StatusServiceUnavailable,
}

// respondError writes the stable code of err with the status matching its kind.
func respondError(ctx echo.Context, err error) error {
	status, ok := statusByKind[domain.KindOf(err)]
	if !ok {
		status = http.StatusInternalServerError
		logrus.WithError(err).Error("Request failed")
	}
	return ctx.JSON(status, ErrorResponse{Code: domain.CodeOf(err), Reason: err.Error()})
}

func bind(ctx echo.Context, v interface{}) error {
	if err := ctx.Bind(v); err != nil {
		ctx.Logger().Error("Could not unmarshal json body:", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return nil
}

// RegisterDataset stores the content and registers it under a new dataset ID.
func (wrapper Wrapper) RegisterDataset(ctx echo.Context) error {
	req := &RegisterDatasetRequest{}
	if err := bind(ctx, req); err != nil {
		return err
	}
	if req.Owner == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "the dataset requires an owner")
	}
	if len(req.Content) == 0 && req.Locator == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "the dataset requires content or a locator")
	}

	opts := registry.Options{
		Visibility: domain.Visibility(req.Visibility),
		Exclusive:  req.Exclusive,
		Price:      req.Price,
		Metadata:   req.Metadata.internal(),
	}
	d, err := wrapper.Cl.RegisterDataset(ctx.Request().Context(), req.Owner, registry.Content{Bytes: req.Content, Locator: req.Locator}, opts)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(http.StatusCreated, d)
}

func (wrapper Wrapper) LocateDataset(ctx echo.Context, id uuid.UUID) error {
	locator, err := wrapper.Cl.LocateDataset(ctx.Request().Context(), id)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, LocatorResponse{Locator: locator})
}

func (wrapper Wrapper) VerifyDataset(ctx echo.Context, id uuid.UUID) error {
	ok, err := wrapper.Cl.VerifyDataset(ctx.Request().Context(), id)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, VerifyResponse{Intact: ok})
}

// FetchDataset returns the raw content to an authorized consumer.
func (wrapper Wrapper) FetchDataset(ctx echo.Context, id uuid.UUID, params ConsumerParams) error {
	data, err := wrapper.Cl.Fetch(ctx.Request().Context(), id, params.Consumer)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.Blob(http.StatusOK, echo.MIMEOctetStream, data)
}

// Authorize reports the access decision. A denial is a regular answer, not an error.
func (wrapper Wrapper) Authorize(ctx echo.Context, id uuid.UUID, params ConsumerParams) error {
	dec, err := wrapper.Cl.Authorize(ctx.Request().Context(), id, params.Consumer)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, dec)
}

func (wrapper Wrapper) AnalyzeDataset(ctx echo.Context, id uuid.UUID) error {
	req := &AnalyzeRequest{}
	if err := bind(ctx, req); err != nil {
		return err
	}
	if req.ConsumerID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "the analysis requires a consumer")
	}
	report, err := wrapper.Cl.Analyze(ctx.Request().Context(), id, req.ConsumerID, analysis.Kind(req.Kind))
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, report)
}

func (wrapper Wrapper) ProposeAgreement(ctx echo.Context) error {
	req := &ProposeAgreementRequest{}
	if err := bind(ctx, req); err != nil {
		return err
	}
	if req.DatasetID == uuid.Nil || req.ConsumerID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "the agreement requires a dataset and a consumer")
	}
	a, err := wrapper.Cl.ProposeAgreement(ctx.Request().Context(), req.DatasetID, req.ConsumerID)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(http.StatusCreated, a)
}

// InitiatePayment submits the payment; settlement follows asynchronously.
func (wrapper Wrapper) InitiatePayment(ctx echo.Context, id uuid.UUID) error {
	txRef, err := wrapper.Cl.InitiatePayment(ctx.Request().Context(), id)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(http.StatusAccepted, PaymentResponse{TxRef: txRef})
}

func (wrapper Wrapper) GetBalance(ctx echo.Context, provider string) error {
	balance, err := wrapper.Cl.Balance(ctx.Request().Context(), provider)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, BalanceResponse{Provider: provider, Balance: balance})
}
