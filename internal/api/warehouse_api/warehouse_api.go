package warehouse_api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/BearBump/WareBox/internal/models"
	"github.com/BearBump/WareBox/internal/services/delivery"
	"github.com/BearBump/WareBox/internal/services/packages"
	"github.com/BearBump/WareBox/internal/storage/pgware"
	"github.com/go-chi/chi/v5"
)

type PackagesService interface {
	CreatePackages(ctx context.Context, items []models.PackageCreateInput) ([]*models.Package, error)
	GetPackagesByIDs(ctx context.Context, ids []uint64) ([]*models.Package, error)
	ListHistory(ctx context.Context, packageID uint64, limit, offset int) ([]*models.StatusHistoryEntry, error)
	ProposeTransition(ctx context.Context, packageID uint64, target, actorRole, reason, location string) (*packages.TransitionOutcome, error)
}

type ShipmentsService interface {
	Create(ctx context.Context, packageIDs []uint64) (*models.Shipment, error)
	GetByID(ctx context.Context, id uint64) (*models.Shipment, error)
	Reconcile(ctx context.Context, shipmentID uint64) (bool, error)
}

type DeliveryService interface {
	Redeem(ctx context.Context, upd pgware.RedeemUpdate) (*delivery.RedeemOutcome, error)
}

type WarehouseAPI struct {
	pkgs      PackagesService
	shipments ShipmentsService
	delivery  DeliveryService
}

func New(pkgs PackagesService, shipments ShipmentsService, del DeliveryService) *WarehouseAPI {
	return &WarehouseAPI{pkgs: pkgs, shipments: shipments, delivery: del}
}

func (a *WarehouseAPI) Routes(r chi.Router) {
	r.Post("/packages", a.createPackages)
	r.Get("/packages/{id}", a.getPackage)
	r.Get("/packages/{id}/history", a.listHistory)
	r.Post("/packages/{id}/transition", a.proposeTransition)
	r.Post("/packages/{id}/redeem", a.redeem)

	r.Post("/shipments", a.createShipment)
	r.Get("/shipments/{id}", a.getShipment)
	r.Post("/shipments/{id}/reconcile", a.reconcileShipment)
}

type createPackagesRequest struct {
	Items []models.PackageCreateInput `json:"items"`
}

func (a *WarehouseAPI) createPackages(w http.ResponseWriter, r *http.Request) {
	var req createPackagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	created, err := a.pkgs.CreatePackages(r.Context(), req.Items)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"packages": created})
}

func (a *WarehouseAPI) getPackage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	ps, err := a.pkgs.GetPackagesByIDs(r.Context(), []uint64{id})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(ps) == 0 {
		writeError(w, http.StatusNotFound, "package not found")
		return
	}
	writeJSON(w, http.StatusOK, ps[0])
}

func (a *WarehouseAPI) listHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	entries, err := a.pkgs.ListHistory(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []*models.StatusHistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type transitionRequest struct {
	TargetStatus string `json:"targetStatus"`
	ActorRole    string `json:"actorRole"`
	Reason       string `json:"reason"`
	Location     string `json:"location"`
}

func (a *WarehouseAPI) proposeTransition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.TargetStatus == "" {
		writeError(w, http.StatusBadRequest, "targetStatus is required")
		return
	}

	out, err := a.pkgs.ProposeTransition(r.Context(), id, req.TargetStatus, req.ActorRole, req.Reason, req.Location)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, transitionHTTPStatus(out), out)
}

// transitionHTTPStatus: результат перехода — структурный, отказ описывается
// findings, а не кодом транспорта; код лишь резюмирует исход.
func transitionHTTPStatus(out *packages.TransitionOutcome) int {
	if out.Accepted {
		return http.StatusOK
	}
	for _, f := range out.Errors {
		switch f.Code {
		case models.FindingPackageNotFound:
			return http.StatusNotFound
		case models.FindingStatusConflict:
			return http.StatusConflict
		}
	}
	return http.StatusUnprocessableEntity
}

type redeemRequest struct {
	SuiteNumber string `json:"suiteNumber"`
	Code        string `json:"code"`
	StaffID     uint64 `json:"staffId"`
	StaffActor  string `json:"staffActor"`
}

func (a *WarehouseAPI) redeem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	out, err := a.delivery.Redeem(r.Context(), pgware.RedeemUpdate{
		PackageID:   id,
		SuiteNumber: req.SuiteNumber,
		Code:        req.Code,
		StaffID:     req.StaffID,
		StaffActor:  req.StaffActor,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, redeemHTTPStatus(out), out)
}

func redeemHTTPStatus(out *delivery.RedeemOutcome) int {
	if out.Verified {
		return http.StatusOK
	}
	switch out.FailureCode {
	case models.RedeemFailPackageNotFound:
		return http.StatusNotFound
	case models.RedeemFailRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusUnprocessableEntity
}

type createShipmentRequest struct {
	PackageIDs []uint64 `json:"packageIds"`
}

func (a *WarehouseAPI) createShipment(w http.ResponseWriter, r *http.Request) {
	var req createShipmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	sh, err := a.shipments.Create(r.Context(), req.PackageIDs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sh)
}

func (a *WarehouseAPI) getShipment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	sh, err := a.shipments.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sh == nil {
		writeError(w, http.StatusNotFound, "shipment not found")
		return
	}
	writeJSON(w, http.StatusOK, sh)
}

func (a *WarehouseAPI) reconcileShipment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	promoted, err := a.shipments.Reconcile(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"promoted": promoted})
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
