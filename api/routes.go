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
)

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// (POST /api/datasets)
	RegisterDataset(ctx echo.Context) error
	// (GET /api/datasets/{id}/locator)
	LocateDataset(ctx echo.Context, id uuid.UUID) error
	// (POST /api/datasets/{id}/verify)
	VerifyDataset(ctx echo.Context, id uuid.UUID) error
	// (GET /api/datasets/{id}/content)
	FetchDataset(ctx echo.Context, id uuid.UUID, params ConsumerParams) error
	// (GET /api/datasets/{id}/access)
	Authorize(ctx echo.Context, id uuid.UUID, params ConsumerParams) error
	// (POST /api/datasets/{id}/analysis)
	AnalyzeDataset(ctx echo.Context, id uuid.UUID) error
	// (POST /api/agreements)
	ProposeAgreement(ctx echo.Context) error
	// (POST /api/agreements/{id}/payment)
	InitiatePayment(ctx echo.Context, id uuid.UUID) error
	// (GET /api/providers/{provider}/balance)
	GetBalance(ctx echo.Context, provider string) error
}

// ConsumerParams defines the query parameters of consumer scoped reads.
type ConsumerParams struct {
	Consumer string `json:"consumer"`
}

// ServerInterfaceWrapper converts echo contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

func pathID(ctx echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "Invalid format for parameter id: "+err.Error())
	}
	return id, nil
}

func consumerParams(ctx echo.Context) (ConsumerParams, error) {
	params := ConsumerParams{Consumer: ctx.QueryParam("consumer")}
	if params.Consumer == "" {
		return params, echo.NewHTTPError(http.StatusBadRequest, "Query argument consumer is required, but not found")
	}
	return params, nil
}

func (w *ServerInterfaceWrapper) RegisterDataset(ctx echo.Context) error {
	return w.Handler.RegisterDataset(ctx)
}

func (w *ServerInterfaceWrapper) LocateDataset(ctx echo.Context) error {
	id, err := pathID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.LocateDataset(ctx, id)
}

func (w *ServerInterfaceWrapper) VerifyDataset(ctx echo.Context) error {
	id, err := pathID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.VerifyDataset(ctx, id)
}

func (w *ServerInterfaceWrapper) FetchDataset(ctx echo.Context) error {
	id, err := pathID(ctx)
	if err != nil {
		return err
	}
	params, err := consumerParams(ctx)
	if err != nil {
		return err
	}
	return w.Handler.FetchDataset(ctx, id, params)
}

func (w *ServerInterfaceWrapper) Authorize(ctx echo.Context) error {
	id, err := pathID(ctx)
	if err != nil {
		return err
	}
	params, err := consumerParams(ctx)
	if err != nil {
		return err
	}
	return w.Handler.Authorize(ctx, id, params)
}

func (w *ServerInterfaceWrapper) AnalyzeDataset(ctx echo.Context) error {
	id, err := pathID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.AnalyzeDataset(ctx, id)
}

func (w *ServerInterfaceWrapper) ProposeAgreement(ctx echo.Context) error {
	return w.Handler.ProposeAgreement(ctx)
}

func (w *ServerInterfaceWrapper) InitiatePayment(ctx echo.Context) error {
	id, err := pathID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.InitiatePayment(ctx, id)
}

func (w *ServerInterfaceWrapper) GetBalance(ctx echo.Context) error {
	return w.Handler.GetBalance(ctx, ctx.Param("provider"))
}

// EchoRouter is the subset of echo.Echo and echo.Group the handlers are registered on.
type EchoRouter interface {
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// RegisterHandlers adds each server route to the EchoRouter.
func RegisterHandlers(router EchoRouter, si ServerInterface) {
	wrapper := ServerInterfaceWrapper{Handler: si}

	router.POST("/api/datasets", wrapper.RegisterDataset)
	router.GET("/api/datasets/:id/locator", wrapper.LocateDataset)
	router.POST("/api/datasets/:id/verify", wrapper.VerifyDataset)
	router.GET("/api/datasets/:id/content", wrapper.FetchDataset)
	router.GET("/api/datasets/:id/access", wrapper.Authorize)
	router.POST("/api/datasets/:id/analysis", wrapper.AnalyzeDataset)
	router.POST("/api/agreements", wrapper.ProposeAgreement)
	router.POST("/api/agreements/:id/payment", wrapper.InitiatePayment)
	router.GET("/api/providers/:provider/balance", wrapper.GetBalance)
}
