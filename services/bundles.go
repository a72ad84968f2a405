package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/wipac/lta/store"
)

// boolify interprets a query argument the way operators write them
func boolify(value string) bool {
	switch strings.ToLower(value) {
	case "1", "t", "true", "y", "yes":
		return true
	}
	return false
}

type BundleListOutput struct {
	Body struct {
		Results []string `json:"results" doc:"the uuids of every matching Bundle"`
	}
}

// handler method for listing Bundle uuids, with optional filters
func (service *Service) listBundles(ctx context.Context,
	input *struct {
		Authorization string `header:"authorization"`
		Location      string `query:"location"`
		Request       string `query:"request"`
		Status        string `query:"status"`
		Verified      string `query:"verified"`
	}) (*BundleListOutput, error) {

	requested("GET", "/Bundles")
	if err := authorize(input.Authorization, "admin", "user", "system"); err != nil {
		return nil, err
	}
	filter := store.BundleFilter{
		Location: input.Location,
		Request:  input.Request,
		Status:   input.Status,
	}
	if input.Verified != "" {
		verified := boolify(input.Verified)
		filter.Verified = &verified
	}
	uuids, err := service.db.ListBundleUUIDs(ctx, filter)
	if err != nil {
		return nil, internalError("GET", "/Bundles", err)
	}
	output := &BundleListOutput{}
	output.Body.Results = uuids
	responded("GET", "200", "/Bundles")
	return output, nil
}

type BundleBulkOutput struct {
	Body struct {
		Bundles []string `json:"bundles" doc:"the uuids affected by the operation"`
		Count   int      `json:"count" doc:"the number of Bundles affected"`
	}
	Status int
}

// validateBulkBundles applies the shared checks for the bulk bundle routes.
func validateBulkBundles(method, route string, raw json.RawMessage) ([]any, store.Document, error) {
	var body store.Document
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, nil, failure(method, route, http.StatusBadRequest, err.Error())
	}
	value, present := body["bundles"]
	if !present {
		return nil, nil, failure(method, route, http.StatusBadRequest, "missing bundles field")
	}
	list, isList := value.([]any)
	if !isList {
		return nil, nil, failure(method, route, http.StatusBadRequest, "bundles field is not a list")
	}
	if len(list) == 0 {
		return nil, nil, failure(method, route, http.StatusBadRequest, "bundles field is empty")
	}
	return list, body, nil
}

// handler method for creating a batch of Bundles
func (service *Service) bulkCreateBundles(ctx context.Context,
	input *struct {
		Authorization string          `header:"authorization"`
		Body          json.RawMessage `contentType:"application/json"`
	}) (*BundleBulkOutput, error) {

	route := "/Bundles/actions/bulk_create"
	requested("POST", route)
	if err := authorize(input.Authorization, "system"); err != nil {
		return nil, err
	}
	list, _, err := validateBulkBundles("POST", route, input.Body)
	if err != nil {
		return nil, err
	}

	docs := make([]store.Document, 0, len(list))
	uuids := make([]string, 0, len(list))
	for _, entry := range list {
		doc, isDoc := entry.(map[string]any)
		if !isDoc {
			return nil, failure("POST", route, http.StatusBadRequest, "bundles field is not a list of objects")
		}
		rightNow := now()
		doc["uuid"] = uuid.NewString()
		doc["create_timestamp"] = rightNow
		doc["update_timestamp"] = rightNow
		doc["work_priority_timestamp"] = rightNow
		doc["claimed"] = false
		docs = append(docs, doc)
		uuids = append(uuids, doc["uuid"].(string))
	}
	if err := service.db.InsertBundles(ctx, docs); err != nil {
		return nil, internalError("POST", route, err)
	}
	for _, id := range uuids {
		slog.Info(fmt.Sprintf("created Bundle %s", id))
	}

	output := &BundleBulkOutput{Status: http.StatusCreated}
	output.Body.Bundles = uuids
	output.Body.Count = len(uuids)
	responded("POST", "201", route)
	return output, nil
}

// handler method for deleting a batch of Bundles
func (service *Service) bulkDeleteBundles(ctx context.Context,
	input *struct {
		Authorization string          `header:"authorization"`
		Body          json.RawMessage `contentType:"application/json"`
	}) (*BundleBulkOutput, error) {

	route := "/Bundles/actions/bulk_delete"
	requested("POST", route)
	if err := authorize(input.Authorization, "system"); err != nil {
		return nil, err
	}
	list, _, err := validateBulkBundles("POST", route, input.Body)
	if err != nil {
		return nil, err
	}
	uuids := make([]string, 0, len(list))
	for _, entry := range list {
		if id, isString := entry.(string); isString {
			uuids = append(uuids, id)
		}
	}
	deleted, err := service.db.DeleteBundles(ctx, uuids)
	if err != nil {
		return nil, internalError("POST", route, err)
	}
	for _, id := range deleted {
		slog.Info(fmt.Sprintf("deleted Bundle %s", id))
	}

	output := &BundleBulkOutput{Status: http.StatusOK}
	output.Body.Bundles = deleted
	output.Body.Count = len(deleted)
	responded("POST", "200", route)
	return output, nil
}

// handler method for patching a batch of Bundles with a shared update
func (service *Service) bulkUpdateBundles(ctx context.Context,
	input *struct {
		Authorization string          `header:"authorization"`
		Body          json.RawMessage `contentType:"application/json"`
	}) (*BundleBulkOutput, error) {

	route := "/Bundles/actions/bulk_update"
	requested("POST", route)
	if err := authorize(input.Authorization, "system"); err != nil {
		return nil, err
	}
	var probe store.Document
	if err := json.Unmarshal(input.Body, &probe); err != nil {
		return nil, failure("POST", route, http.StatusBadRequest, err.Error())
	}
	updateValue, present := probe["update"]
	if !present {
		return nil, failure("POST", route, http.StatusBadRequest, "missing update field")
	}
	update, isDoc := updateValue.(map[string]any)
	if !isDoc {
		return nil, failure("POST", route, http.StatusBadRequest, "update field is not an object")
	}
	list, _, err := validateBulkBundles("POST", route, input.Body)
	if err != nil {
		return nil, err
	}
	uuids := make([]string, 0, len(list))
	for _, entry := range list {
		if id, isString := entry.(string); isString {
			uuids = append(uuids, id)
		}
	}
	updated, err := service.db.UpdateBundles(ctx, uuids, update)
	if err != nil {
		return nil, internalError("POST", route, err)
	}
	for _, id := range updated {
		slog.Info(fmt.Sprintf("updated Bundle %s", id))
	}

	output := &BundleBulkOutput{Status: http.StatusOK}
	output.Body.Bundles = updated
	output.Body.Count = len(updated)
	responded("POST", "200", route)
	return output, nil
}

type BundlePopOutput struct {
	Body struct {
		Bundle store.Document `json:"bundle" doc:"the claimed Bundle, or null when no work is available"`
	}
}

// handler method for claiming the longest-waiting unclaimed Bundle matching
// the given site and status
func (service *Service) popBundle(ctx context.Context,
	input *struct {
		Authorization string          `header:"authorization"`
		Source        string          `query:"source"`
		Dest          string          `query:"dest"`
		Status        string          `query:"status"`
		Body          json.RawMessage `contentType:"application/json"`
	}) (*BundlePopOutput, error) {

	route := "/Bundles/actions/pop"
	requested("POST", route)
	if err := authorize(input.Authorization, "system"); err != nil {
		return nil, err
	}
	if input.Status == "" {
		return nil, failure("POST", route, http.StatusBadRequest, "missing status field")
	}
	if input.Source == "" && input.Dest == "" {
		return nil, failure("POST", route, http.StatusBadRequest, "missing source and dest fields")
	}
	var body store.Document
	if err := json.Unmarshal(input.Body, &body); err != nil {
		return nil, failure("POST", route, http.StatusBadRequest, err.Error())
	}
	claimant, present := body["claimant"].(string)
	if !present {
		return nil, failure("POST", route, http.StatusBadRequest, "missing claimant field")
	}

	rightNow := now()
	claim := store.Document{
		"update_timestamp": rightNow,
		"claimed":          true,
		"claimant":         claimant,
		"claim_timestamp":  rightNow,
	}
	doc, err := service.db.PopBundle(ctx,
		store.PopFilter{Source: input.Source, Dest: input.Dest},
		input.Status, claim)
	if err != nil {
		return nil, internalError("POST", route, err)
	}
	if doc == nil {
		slog.Info(fmt.Sprintf("Unclaimed Bundle with source %s and status %s does not exist.",
			input.Source, input.Status))
	} else {
		slog.Info(fmt.Sprintf("Bundle %s claimed by %s", doc["uuid"], claimant))
	}
	output := &BundlePopOutput{}
	output.Body.Bundle = doc
	responded("POST", "200", route)
	return output, nil
}

type BundleOutput struct {
	Body store.Document `doc:"a single Bundle document"`
}

// handler method for fetching a single Bundle; the potentially enormous
// file listing is stripped from the response
func (service *Service) getBundle(ctx context.Context,
	input *struct {
		Authorization string `header:"authorization"`
		UUID          string `path:"uuid"`
	}) (*BundleOutput, error) {

	requested("GET", "/Bundles/{uuid}")
	if err := authorize(input.Authorization, "admin", "user", "system"); err != nil {
		return nil, err
	}
	doc, err := service.db.GetBundle(ctx, input.UUID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, failure("GET", "/Bundles/{uuid}", http.StatusNotFound, "not found")
		}
		return nil, internalError("GET", "/Bundles/{uuid}", err)
	}
	delete(doc, "files")
	responded("GET", "200", "/Bundles/{uuid}")
	return &BundleOutput{Body: doc}, nil
}

// handler method for patching a single Bundle
func (service *Service) patchBundle(ctx context.Context,
	input *struct {
		Authorization string          `header:"authorization"`
		UUID          string          `path:"uuid"`
		Body          json.RawMessage `contentType:"application/json"`
	}) (*BundleOutput, error) {

	requested("PATCH", "/Bundles/{uuid}")
	if err := authorize(input.Authorization, "admin", "system"); err != nil {
		return nil, err
	}
	var patch store.Document
	if err := json.Unmarshal(input.Body, &patch); err != nil {
		return nil, failure("PATCH", "/Bundles/{uuid}", http.StatusBadRequest, err.Error())
	}
	if patchUUID, present := patch["uuid"]; present && patchUUID != input.UUID {
		return nil, failure("PATCH", "/Bundles/{uuid}", http.StatusBadRequest, "bad request")
	}
	doc, err := service.db.PatchBundle(ctx, input.UUID, patch)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, failure("PATCH", "/Bundles/{uuid}", http.StatusNotFound, "not found")
		}
		return nil, internalError("PATCH", "/Bundles/{uuid}", err)
	}
	slog.Info(fmt.Sprintf("patched Bundle %s", input.UUID))
	responded("PATCH", "200", "/Bundles/{uuid}")
	return &BundleOutput{Body: doc}, nil
}

// handler method for deleting a single Bundle; deletion is idempotent, so
// an unknown uuid is still a 204
func (service *Service) deleteBundle(ctx context.Context,
	input *struct {
		Authorization string `header:"authorization"`
		UUID          string `path:"uuid"`
	}) (*DeletedOutput, error) {

	requested("DELETE", "/Bundles/{uuid}")
	if err := authorize(input.Authorization, "admin", "system"); err != nil {
		return nil, err
	}
	if err := service.db.DeleteBundle(ctx, input.UUID); err != nil {
		return nil, internalError("DELETE", "/Bundles/{uuid}", err)
	}
	slog.Info(fmt.Sprintf("deleted Bundle %s", input.UUID))
	responded("DELETE", "204", "/Bundles/{uuid}")
	return &DeletedOutput{Status: http.StatusNoContent}, nil
}
