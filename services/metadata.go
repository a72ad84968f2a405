package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/wipac/lta/store"
)

type MetadataListOutput struct {
	Body struct {
		Results []store.Document `json:"results" doc:"the matching Metadata documents"`
	}
}

// handler method for listing the Metadata records of a bundle
func (service *Service) listMetadata(ctx context.Context,
	input *struct {
		Authorization string `header:"authorization"`
		BundleUUID    string `query:"bundle_uuid"`
		Limit         int    `query:"limit" default:"1000"`
		Skip          int    `query:"skip"`
	}) (*MetadataListOutput, error) {

	requested("GET", "/Metadata")
	if err := authorize(input.Authorization, "admin", "user", "system"); err != nil {
		return nil, err
	}
	docs, err := service.db.ListMetadata(ctx, input.BundleUUID, input.Limit, input.Skip)
	if err != nil {
		return nil, internalError("GET", "/Metadata", err)
	}
	output := &MetadataListOutput{}
	output.Body.Results = docs
	responded("GET", "200", "/Metadata")
	return output, nil
}

// handler method for deleting every Metadata record of a bundle
func (service *Service) deleteBundleMetadata(ctx context.Context,
	input *struct {
		Authorization string `header:"authorization"`
		BundleUUID    string `query:"bundle_uuid"`
	}) (*DeletedOutput, error) {

	route := "/Metadata?bundle_uuid={uuid}"
	requested("DELETE", route)
	if err := authorize(input.Authorization, "admin", "system"); err != nil {
		return nil, err
	}
	if input.BundleUUID == "" {
		return nil, failure("DELETE", route, http.StatusBadRequest, "bundle_uuid must not be empty")
	}
	if err := service.db.DeleteMetadataForBundle(ctx, input.BundleUUID); err != nil {
		return nil, internalError("DELETE", route, err)
	}
	slog.Info(fmt.Sprintf("deleted all Metadata records for Bundle %s", input.BundleUUID))
	responded("DELETE", "204", route)
	return &DeletedOutput{Status: http.StatusNoContent}, nil
}

type MetadataBulkOutput struct {
	Body struct {
		Metadata []string `json:"metadata" doc:"the uuids affected by the operation"`
		Count    int      `json:"count" doc:"the number of Metadata records affected"`
	}
	Status int
}

// handler method for creating the Metadata records mapping a bundle to its
// catalog files
func (service *Service) bulkCreateMetadata(ctx context.Context,
	input *struct {
		Authorization string `header:"authorization"`
		Body          struct {
			BundleUUID string   `json:"bundle_uuid"`
			Files      []string `json:"files"`
		} `contentType:"application/json"`
	}) (*MetadataBulkOutput, error) {

	route := "/Metadata/actions/bulk_create"
	requested("POST", route)
	if err := authorize(input.Authorization, "system"); err != nil {
		return nil, err
	}
	if input.Body.BundleUUID == "" {
		return nil, failure("POST", route, http.StatusBadRequest, "bundle_uuid must not be empty")
	}
	if len(input.Body.Files) == 0 {
		return nil, failure("POST", route, http.StatusBadRequest, "files must not be empty")
	}

	docs := make([]store.Document, 0, len(input.Body.Files))
	uuids := make([]string, 0, len(input.Body.Files))
	for _, fileCatalogUUID := range input.Body.Files {
		id := uuid.NewString()
		docs = append(docs, store.Document{
			"uuid":              id,
			"bundle_uuid":       input.Body.BundleUUID,
			"file_catalog_uuid": fileCatalogUUID,
		})
		uuids = append(uuids, id)
	}
	if err := service.db.InsertMetadata(ctx, docs); err != nil {
		return nil, internalError("POST", route, err)
	}
	slog.Info(fmt.Sprintf("created %d Metadata records for Bundle %s",
		len(uuids), input.Body.BundleUUID))

	output := &MetadataBulkOutput{Status: http.StatusCreated}
	output.Body.Metadata = uuids
	output.Body.Count = len(uuids)
	responded("POST", "201", route)
	return output, nil
}

// handler method for deleting a batch of Metadata records by uuid
func (service *Service) bulkDeleteMetadata(ctx context.Context,
	input *struct {
		Authorization string `header:"authorization"`
		Body          struct {
			Metadata []string `json:"metadata"`
		} `contentType:"application/json"`
	}) (*MetadataBulkOutput, error) {

	route := "/Metadata/actions/bulk_delete"
	requested("POST", route)
	if err := authorize(input.Authorization, "system"); err != nil {
		return nil, err
	}
	if len(input.Body.Metadata) == 0 {
		return nil, failure("POST", route, http.StatusBadRequest, "metadata must not be empty")
	}
	count, err := service.db.DeleteMetadata(ctx, input.Body.Metadata)
	if err != nil {
		return nil, internalError("POST", route, err)
	}

	output := &MetadataBulkOutput{Status: http.StatusOK}
	output.Body.Metadata = input.Body.Metadata
	output.Body.Count = count
	responded("POST", "200", route)
	return output, nil
}

type MetadatumOutput struct {
	Body store.Document `doc:"a single Metadata document"`
}

// handler method for fetching a single Metadata record
func (service *Service) getMetadatum(ctx context.Context,
	input *struct {
		Authorization string `header:"authorization"`
		UUID          string `path:"uuid"`
	}) (*MetadatumOutput, error) {

	requested("GET", "/Metadata/{uuid}")
	if err := authorize(input.Authorization, "admin", "user", "system"); err != nil {
		return nil, err
	}
	doc, err := service.db.GetMetadatum(ctx, input.UUID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, failure("GET", "/Metadata/{uuid}", http.StatusNotFound, "not found")
		}
		return nil, internalError("GET", "/Metadata/{uuid}", err)
	}
	responded("GET", "200", "/Metadata/{uuid}")
	return &MetadatumOutput{Body: doc}, nil
}

// handler method for deleting a single Metadata record
func (service *Service) deleteMetadatum(ctx context.Context,
	input *struct {
		Authorization string `header:"authorization"`
		UUID          string `path:"uuid"`
	}) (*DeletedOutput, error) {

	requested("DELETE", "/Metadata/{uuid}")
	if err := authorize(input.Authorization, "admin", "system"); err != nil {
		return nil, err
	}
	if err := service.db.DeleteMetadatum(ctx, input.UUID); err != nil {
		return nil, internalError("DELETE", "/Metadata/{uuid}", err)
	}
	slog.Info(fmt.Sprintf("deleted Metadata %s", input.UUID))
	responded("DELETE", "204", "/Metadata/{uuid}")
	return &DeletedOutput{Status: http.StatusNoContent}, nil
}
