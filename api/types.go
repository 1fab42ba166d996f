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
	"github.com/google/uuid"

	"github.com/datanova-ai/datanova-exchange/domain"
)

// RegisterDatasetRequest registers either inline content or content already in storage.
type RegisterDatasetRequest struct {
	Owner      string           `json:"owner"`
	Content    []byte           `json:"content,omitempty"`
	Locator    string           `json:"locator,omitempty"`
	Price      uint64           `json:"price"`
	Visibility string           `json:"visibility,omitempty"`
	Exclusive  *bool            `json:"exclusive,omitempty"`
	Metadata   *DatasetMetadata `json:"metadata,omitempty"`
}

type DatasetMetadata struct {
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	DataType    string   `json:"dataType,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	Authors     []string `json:"authors,omitempty"`
	License     string   `json:"license,omitempty"`
	ContentType string   `json:"contentType,omitempty"`
}

type ProposeAgreementRequest struct {
	DatasetID  uuid.UUID `json:"datasetId"`
	ConsumerID string    `json:"consumerId"`
}

type AnalyzeRequest struct {
	ConsumerID string `json:"consumerId"`
	Kind       string `json:"kind"`
}

type PaymentResponse struct {
	TxRef string `json:"txRef"`
}

type VerifyResponse struct {
	Intact bool `json:"intact"`
}

type LocatorResponse struct {
	Locator string `json:"locator"`
}

type BalanceResponse struct {
	Provider string `json:"provider"`
	Balance  uint64 `json:"balance"`
}

// ErrorResponse carries the stable code of a failed operation.
type ErrorResponse struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

func (m *DatasetMetadata) internal() domain.Metadata {
	if m == nil {
		return domain.Metadata{}
	}
	return domain.Metadata{
		Title:       m.Title,
		Description: m.Description,
		DataType:    domain.DataType(m.DataType),
		Keywords:    m.Keywords,
		Authors:     m.Authors,
		License:     m.License,
		ContentType: m.ContentType,
	}
}
