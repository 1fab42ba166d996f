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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datanova-ai/datanova-exchange/analysis"
	"github.com/datanova-ai/datanova-exchange/domain"
	"github.com/datanova-ai/datanova-exchange/gate"
	"github.com/datanova-ai/datanova-exchange/pkg/mock"
	"github.com/datanova-ai/datanova-exchange/registry"
)

func server(t *testing.T) (*echo.Echo, *mock.MockExchangeClient, func()) {
	ctrl := gomock.NewController(t)
	client := mock.NewMockExchangeClient(ctrl)
	e := echo.New()
	RegisterHandlers(e, Wrapper{Cl: client})
	return e, client, ctrl.Finish
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestWrapper_RegisterDataset(t *testing.T) {
	t.Run("registers inline content", func(t *testing.T) {
		e, client, finish := server(t)
		defer finish()
		exclusive := true
		client.EXPECT().RegisterDataset(gomock.Any(), "lab-7", registry.Content{Bytes: []byte("abc")}, registry.Options{
			Visibility: domain.Gated,
			Exclusive:  &exclusive,
			Price:      250,
			Metadata:   domain.Metadata{Title: "Ice cores", DataType: domain.Observational},
		}).Return(&domain.Dataset{ID: uuid.New(), OwnerID: "lab-7"}, nil)

		rec := do(e, http.MethodPost, "/api/datasets",
			`{"owner":"lab-7","content":"YWJj","price":250,"visibility":"GATED","exclusive":true,"metadata":{"title":"Ice cores","dataType":"observational"}}`)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, rec.Body.String(), `"OwnerID":"lab-7"`)
	})

	t.Run("rejects incomplete requests", func(t *testing.T) {
		e, _, finish := server(t)
		defer finish()
		for name, body := range map[string]string{
			"no owner":   `{"content":"YWJj"}`,
			"no content": `{"owner":"lab-7"}`,
			"not json":   `{"owner":`,
		} {
			t.Run(name, func(t *testing.T) {
				assert.Equal(t, http.StatusBadRequest, do(e, http.MethodPost, "/api/datasets", body).Code)
			})
		}
	})

	t.Run("duplicate content is a conflict", func(t *testing.T) {
		e, client, finish := server(t)
		defer finish()
		client.EXPECT().RegisterDataset(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, domain.Errorf(domain.ErrDuplicateDataset, "digest bafk"))

		rec := do(e, http.MethodPost, "/api/datasets", `{"owner":"lab-7","locator":"bafk"}`)

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "duplicate_dataset", errorOf(t, rec).Code)
	})
}

func TestWrapper_ErrorStatus(t *testing.T) {
	id := uuid.New()
	tests := map[string]struct {
		err    error
		status int
		code   string
	}{
		"validation":   {domain.ErrValidation, http.StatusBadRequest, "validation_failed"},
		"not found":    {domain.Errorf(domain.ErrNotFound, "dataset %s", id), http.StatusNotFound, "not_found"},
		"invalid":      {domain.ErrInvalidState, http.StatusConflict, "invalid_state"},
		"denied":       {domain.ErrAccessDenied, http.StatusForbidden, "access_denied"},
		"integrity":    {domain.ErrIntegrity, http.StatusUnprocessableEntity, "integrity"},
		"unavailable":  {domain.ErrUnavailable, http.StatusServiceUnavailable, "unavailable"},
		"unclassified": {errors.New("disk on fire"), http.StatusInternalServerError, "internal"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			e, client, finish := server(t)
			defer finish()
			client.EXPECT().Fetch(gomock.Any(), id, "consumer-1").Return(nil, tc.err)

			rec := do(e, http.MethodGet, "/api/datasets/"+id.String()+"/content?consumer=consumer-1", "")

			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, errorOf(t, rec).Code)
		})
	}
}

func TestWrapper_Datasets(t *testing.T) {
	id := uuid.New()

	t.Run("fetch returns raw content", func(t *testing.T) {
		e, client, finish := server(t)
		defer finish()
		client.EXPECT().Fetch(gomock.Any(), id, "consumer-1").Return([]byte("depth,temp\n"), nil)

		rec := do(e, http.MethodGet, "/api/datasets/"+id.String()+"/content?consumer=consumer-1", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "depth,temp\n", rec.Body.String())
		assert.Equal(t, echo.MIMEOctetStream, rec.Header().Get(echo.HeaderContentType))
	})

	t.Run("consumer is required", func(t *testing.T) {
		e, _, finish := server(t)
		defer finish()
		assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/api/datasets/"+id.String()+"/access", "").Code)
	})

	t.Run("malformed id", func(t *testing.T) {
		e, _, finish := server(t)
		defer finish()
		assert.Equal(t, http.StatusBadRequest, do(e, http.MethodPost, "/api/datasets/abc/verify", "").Code)
	})

	t.Run("denial is an answer", func(t *testing.T) {
		e, client, finish := server(t)
		defer finish()
		client.EXPECT().Authorize(gomock.Any(), id, "consumer-1").Return(gate.Decision{Reason: gate.NoAgreement}, nil)

		rec := do(e, http.MethodGet, "/api/datasets/"+id.String()+"/access?consumer=consumer-1", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		var dec gate.Decision
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dec))
		assert.False(t, dec.Granted)
		assert.Equal(t, gate.NoAgreement, dec.Reason)
	})

	t.Run("verify and locate", func(t *testing.T) {
		e, client, finish := server(t)
		defer finish()
		client.EXPECT().VerifyDataset(gomock.Any(), id).Return(false, nil)
		client.EXPECT().LocateDataset(gomock.Any(), id).Return("", domain.ErrIntegrity)

		assert.JSONEq(t, `{"intact":false}`, do(e, http.MethodPost, "/api/datasets/"+id.String()+"/verify", "").Body.String())
		assert.Equal(t, http.StatusUnprocessableEntity, do(e, http.MethodGet, "/api/datasets/"+id.String()+"/locator", "").Code)
	})

	t.Run("analysis", func(t *testing.T) {
		e, client, finish := server(t)
		defer finish()
		client.EXPECT().Analyze(gomock.Any(), id, "consumer-1", analysis.Anomaly).Return(&analysis.Report{Kind: analysis.Anomaly, Rows: 3}, nil)

		rec := do(e, http.MethodPost, "/api/datasets/"+id.String()+"/analysis", `{"consumerId":"consumer-1","kind":"anomaly"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"Rows":3`)
		assert.Equal(t, http.StatusBadRequest, do(e, http.MethodPost, "/api/datasets/"+id.String()+"/analysis", `{"kind":"anomaly"}`).Code)
	})
}

func TestWrapper_Agreements(t *testing.T) {
	datasetID := uuid.New()
	agreementID := uuid.New()

	t.Run("propose", func(t *testing.T) {
		e, client, finish := server(t)
		defer finish()
		client.EXPECT().ProposeAgreement(gomock.Any(), datasetID, "consumer-1").
			Return(&domain.Agreement{ID: agreementID, State: domain.Proposed}, nil)

		rec := do(e, http.MethodPost, "/api/agreements", `{"datasetId":"`+datasetID.String()+`","consumerId":"consumer-1"}`)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, rec.Body.String(), agreementID.String())
	})

	t.Run("propose without consumer", func(t *testing.T) {
		e, _, finish := server(t)
		defer finish()
		rec := do(e, http.MethodPost, "/api/agreements", `{"datasetId":"`+datasetID.String()+`"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("open agreement conflicts", func(t *testing.T) {
		e, client, finish := server(t)
		defer finish()
		client.EXPECT().ProposeAgreement(gomock.Any(), datasetID, "consumer-1").Return(nil, domain.ErrConflict)

		rec := do(e, http.MethodPost, "/api/agreements", `{"datasetId":"`+datasetID.String()+`","consumerId":"consumer-1"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("payment is accepted", func(t *testing.T) {
		e, client, finish := server(t)
		defer finish()
		client.EXPECT().InitiatePayment(gomock.Any(), agreementID).Return("5xRef", nil)

		rec := do(e, http.MethodPost, "/api/agreements/"+agreementID.String()+"/payment", "")

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.JSONEq(t, `{"txRef":"5xRef"}`, rec.Body.String())
	})

	t.Run("balance", func(t *testing.T) {
		e, client, finish := server(t)
		defer finish()
		client.EXPECT().Balance(gomock.Any(), "lab-7").Return(uint64(200), nil)

		rec := do(e, http.MethodGet, "/api/providers/lab-7/balance", "")
		assert.JSONEq(t, `{"provider":"lab-7","balance":200}`, rec.Body.String())
	})
}
