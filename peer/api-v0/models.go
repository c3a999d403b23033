/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"stash.kopano.io/kwm/kwmpeer/peer/odata"
)

type CollectionResource struct {
	ODataContext  string `json:"@odata.context"`
	ODataNextLink string `json:"@odata.nextLink,omitempty"`

	Values Collection `json:"values"`
}

type Collection interface{}

type ItemResource struct {
	ODataContext string `json:"@odata.context"`
	Item
}

type Item interface{}

// MarshalJSON flattens the wrapped item into the resource object, adding the
// OData meta data next to the item's own fields.
func (resource *ItemResource) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(resource.Item)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]json.RawMessage)
	if err = json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	fields["@odata.context"], err = json.Marshal(resource.ODataContext)
	if err != nil {
		return nil, err
	}

	return json.Marshal(fields)
}

// NewCollectionResource wraps the provided collection for response together
// with its OData meta data as taken from the request.
func NewCollectionResource(values Collection, req *http.Request, nextLink *string) *CollectionResource {
	resource := &CollectionResource{
		ODataContext: odataContextFromRequest(req),

		Values: values,
	}
	if nextLink != nil {
		resource.ODataNextLink = *nextLink
	}

	return resource
}

// NewItemResource wraps the provided item for response together with its
// OData meta data as taken from the request.
func NewItemResource(item Item, req *http.Request) *ItemResource {
	return &ItemResource{
		ODataContext: odataContextFromRequest(req),
		Item:         item,
	}
}

func odataContextFromRequest(req *http.Request) string {
	if od := odata.FromContext(req.Context()); od != nil {
		return od.Context
	}
	return req.URL.Path
}

type ErrorResource struct {
	Error interface{}
}

type ErrorWithCodeAndMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	innerError error
}

func NewErrorWithCodeAndMessage(code string, message string, err error) *ErrorWithCodeAndMessage {
	return &ErrorWithCodeAndMessage{
		Code:    code,
		Message: message,

		innerError: err,
	}
}

func (err *ErrorWithCodeAndMessage) Error() string {
	code := err.Code
	message := err.Message
	if message == "" && err.innerError != nil {
		message = err.innerError.Error()
	}

	return fmt.Sprintf("%s: %s", code, message)
}

func (err *ErrorWithCodeAndMessage) Unwrap() error {
	return err.innerError
}
