package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/wipac/lta/store"
)

type RequestListOutput struct {
	Body struct {
		Results []store.Document `json:"results" doc:"every TransferRequest document"`
	}
}

// handler method for listing all TransferRequests
func (service *Service) listRequests(ctx context.Context,
	input *struct {
		Authorization string `header:"authorization"`
	}) (*RequestListOutput, error) {

	requested("GET", "/TransferRequests")
	if err := authorize(input.Authorization, "admin", "user", "system"); err != nil {
		return nil, err
	}
	docs, err := service.db.ListRequests(ctx)
	if err != nil {
		return nil, internalError("GET", "/TransferRequests", err)
	}
	output := &RequestListOutput{}
	output.Body.Results = docs
	responded("GET", "200", "/TransferRequests")
	return output, nil
}

type RequestCreatedOutput struct {
	Body struct {
		TransferRequest string `json:"TransferRequest" doc:"the uuid assigned to the new TransferRequest"`
	}
	Status int
}

// handler method for creating a new TransferRequest
func (service *Service) createRequest(ctx context.Context,
	input *struct {
		Authorization string          `header:"authorization"`
		Body          json.RawMessage `contentType:"application/json"`
	}) (*RequestCreatedOutput, error) {

	requested("POST", "/TransferRequests")
	if err := authorize(input.Authorization, "admin", "user"); err != nil {
		return nil, err
	}
	var doc store.Document
	if err := json.Unmarshal(input.Body, &doc); err != nil {
		return nil, failure("POST", "/TransferRequests", http.StatusBadRequest, err.Error())
	}
	for _, field := range []string{"source", "dest", "path"} {
		value, present := doc[field]
		if !present {
			return nil, failure("POST", "/TransferRequests", http.StatusBadRequest,
				fmt.Sprintf("missing %s field", field))
		}
		str, isString := value.(string)
		if !isString {
			return nil, failure("POST", "/TransferRequests", http.StatusBadRequest,
				fmt.Sprintf("%s field is not a string", field))
		}
		if str == "" {
			return nil, failure("POST", "/TransferRequests", http.StatusBadRequest,
				fmt.Sprintf("%s field is empty", field))
		}
	}

	rightNow := now()
	doc["type"] = "TransferRequest"
	doc["uuid"] = uuid.NewString()
	doc["status"] = "unclaimed"
	doc["create_timestamp"] = rightNow
	doc["update_timestamp"] = rightNow
	doc["work_priority_timestamp"] = rightNow
	doc["claimed"] = false
	if err := service.db.InsertRequest(ctx, doc); err != nil {
		return nil, internalError("POST", "/TransferRequests", err)
	}
	slog.Info(fmt.Sprintf("created TransferRequest %s", doc["uuid"]))

	output := &RequestCreatedOutput{Status: http.StatusCreated}
	output.Body.TransferRequest = doc["uuid"].(string)
	responded("POST", "201", "/TransferRequests")
	return output, nil
}

type RequestOutput struct {
	Body store.Document `doc:"a single TransferRequest document"`
}

// handler method for fetching a single TransferRequest
func (service *Service) getRequest(ctx context.Context,
	input *struct {
		Authorization string `header:"authorization"`
		UUID          string `path:"uuid"`
	}) (*RequestOutput, error) {

	requested("GET", "/TransferRequests/{uuid}")
	if err := authorize(input.Authorization, "admin", "user", "system"); err != nil {
		return nil, err
	}
	doc, err := service.db.GetRequest(ctx, input.UUID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, failure("GET", "/TransferRequests/{uuid}", http.StatusNotFound, "not found")
		}
		return nil, internalError("GET", "/TransferRequests/{uuid}", err)
	}
	responded("GET", "200", "/TransferRequests/{uuid}")
	return &RequestOutput{Body: doc}, nil
}

type EmptyOutput struct {
	Body struct{}
}

// handler method for patching a single TransferRequest
func (service *Service) patchRequest(ctx context.Context,
	input *struct {
		Authorization string          `header:"authorization"`
		UUID          string          `path:"uuid"`
		Body          json.RawMessage `contentType:"application/json"`
	}) (*EmptyOutput, error) {

	requested("PATCH", "/TransferRequests/{uuid}")
	if err := authorize(input.Authorization, "admin", "system"); err != nil {
		return nil, err
	}
	var patch store.Document
	if err := json.Unmarshal(input.Body, &patch); err != nil {
		return nil, failure("PATCH", "/TransferRequests/{uuid}", http.StatusBadRequest, err.Error())
	}
	if patchUUID, present := patch["uuid"]; present && patchUUID != input.UUID {
		return nil, failure("PATCH", "/TransferRequests/{uuid}", http.StatusBadRequest, "bad request")
	}
	_, err := service.db.PatchRequest(ctx, input.UUID, patch)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, failure("PATCH", "/TransferRequests/{uuid}", http.StatusNotFound, "not found")
		}
		return nil, internalError("PATCH", "/TransferRequests/{uuid}", err)
	}
	slog.Info(fmt.Sprintf("patched TransferRequest %s", input.UUID))
	responded("PATCH", "200", "/TransferRequests/{uuid}")
	return &EmptyOutput{}, nil
}

type DeletedOutput struct {
	Status int
}

// handler method for deleting a single TransferRequest; deletion is
// idempotent, so an unknown uuid is still a 204
func (service *Service) deleteRequest(ctx context.Context,
	input *struct {
		Authorization string `header:"authorization"`
		UUID          string `path:"uuid"`
	}) (*DeletedOutput, error) {

	requested("DELETE", "/TransferRequests/{uuid}")
	if err := authorize(input.Authorization, "admin", "system"); err != nil {
		return nil, err
	}
	if err := service.db.DeleteRequest(ctx, input.UUID); err != nil {
		return nil, internalError("DELETE", "/TransferRequests/{uuid}", err)
	}
	slog.Info(fmt.Sprintf("deleted TransferRequest %s", input.UUID))
	responded("DELETE", "204", "/TransferRequests/{uuid}")
	return &DeletedOutput{Status: http.StatusNoContent}, nil
}

type RequestPopOutput struct {
	Body struct {
		TransferRequest store.Document `json:"transfer_request" doc:"the claimed TransferRequest, or null when no work is available"`
	}
}

// handler method for claiming the longest-waiting unclaimed TransferRequest
func (service *Service) popRequest(ctx context.Context,
	input *struct {
		Authorization string          `header:"authorization"`
		Source        string          `query:"source"`
		Body          json.RawMessage `contentType:"application/json"`
	}) (*RequestPopOutput, error) {

	requested("POST", "/TransferRequests/actions/pop")
	if err := authorize(input.Authorization, "system"); err != nil {
		return nil, err
	}
	if input.Source == "" {
		return nil, failure("POST", "/TransferRequests/actions/pop", http.StatusBadRequest,
			"missing source field")
	}
	var body store.Document
	if err := json.Unmarshal(input.Body, &body); err != nil {
		return nil, failure("POST", "/TransferRequests/actions/pop", http.StatusBadRequest, err.Error())
	}
	claimant, present := body["claimant"].(string)
	if !present {
		return nil, failure("POST", "/TransferRequests/actions/pop", http.StatusBadRequest,
			"missing claimant field")
	}

	rightNow := now()
	claim := store.Document{
		"status":           "processing",
		"update_timestamp": rightNow,
		"claimed":          true,
		"claimant":         claimant,
		"claim_timestamp":  rightNow,
	}
	doc, err := service.db.PopRequest(ctx, input.Source, claim)
	if err != nil {
		return nil, internalError("POST", "/TransferRequests/actions/pop", err)
	}
	if doc == nil {
		slog.Info(fmt.Sprintf("Unclaimed TransferRequest with source %s does not exist.", input.Source))
	} else {
		slog.Info(fmt.Sprintf("TransferRequest %s claimed by %s", doc["uuid"], claimant))
	}
	output := &RequestPopOutput{}
	output.Body.TransferRequest = doc
	responded("POST", "200", "/TransferRequests/actions/pop")
	return output, nil
}
