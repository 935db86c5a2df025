package restapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sharedcode/latch"
	"github.com/sharedcode/latch/lease"
	"github.com/sharedcode/latch/refcount"
)

// Service wires the remote store collaborators the REST surface operates on.
type Service struct {
	Leases  latch.LeaseManager
	Tracker *refcount.Tracker
}

var service *Service

// Configure installs the Service the handlers below delegate to. Call once at
// startup before registering routes.
func Configure(s *Service) {
	service = s
}

// errStatus maps the latch error taxonomy onto HTTP statuses.
func errStatus(err error) int {
	var lte *latch.LeaseTimeoutError
	if errors.As(err, &lte) {
		return http.StatusRequestTimeout
	}
	var sre *latch.StillReferencedError
	if errors.As(err, &sre) {
		return http.StatusConflict
	}
	var cfe *latch.ConfigurationError
	if errors.As(err, &cfe) {
		return http.StatusBadRequest
	}
	if latch.IsConflict(err) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// AcquireLease godoc
// @Summary AcquireLease takes the exclusive lease on a target.
// @Schemes
// @Description AcquireLease blocks until the lease on the target is granted or the timeout elapses, then responds with the owner id to release with.
// @Tags Leases
// @Accept json
// @Produce json
// @Param target path string true "Target object to lease" minlength(1)
// @Param ttl query string false "Lease TTL, Go duration" default(30s)
// @Param timeout query string false "Acquisition timeout, Go duration" default(1m)
// @Failure 400 {object} map[string]any
// @Failure 408 {object} map[string]any
// @Success 200 {object} map[string]any
// @Router /leases/{target} [post]
// @Security Bearer
func AcquireLease(c *gin.Context) {
	target := c.Param("target")
	ttl, err := time.ParseDuration(c.DefaultQuery("ttl", "30s"))
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": "invalid ttl duration"})
		return
	}
	timeout, err := time.ParseDuration(c.DefaultQuery("timeout", "1m"))
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": "invalid timeout duration"})
		return
	}
	l, err := lease.Acquire(c.Request.Context(), service.Leases, target, ttl, timeout)
	if err != nil {
		c.IndentedJSON(errStatus(err), gin.H{"message": err.Error()})
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"target": l.Target(), "owner": l.Owner().String()})
}

// ReleaseLease godoc
// @Summary ReleaseLease relinquishes a held lease.
// @Schemes
// @Description ReleaseLease releases the lease on the target for the given owner id; releasing an expired or unheld lease is a no-op.
// @Tags Leases
// @Accept json
// @Produce json
// @Param target path string true "Leased target object" minlength(1)
// @Param owner path string true "Owner id returned by acquire" minlength(36) maxlength(36)
// @Failure 400 {object} map[string]any
// @Success 204 {object} nil
// @Router /leases/{target}/{owner} [delete]
// @Security Bearer
func ReleaseLease(c *gin.Context) {
	target := c.Param("target")
	owner, err := latch.ParseUUID(c.Param("owner"))
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": "invalid owner id"})
		return
	}
	if err := service.Leases.Release(c.Request.Context(), target, owner); err != nil {
		c.IndentedJSON(errStatus(err), gin.H{"message": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// AttachReference godoc
// @Summary AttachReference records a dependent of the target.
// @Schemes
// @Description AttachReference attaches the reference id to the target under its exclusive lease and responds with the resulting live reference count. Attaching an existing id is a no-op.
// @Tags References
// @Accept json
// @Produce json
// @Param target path string true "Target object" minlength(1)
// @Param id path string true "Reference id (UUID)" minlength(36) maxlength(36)
// @Param label query string false "Display label, defaults to the id"
// @Failure 400 {object} map[string]any
// @Failure 408 {object} map[string]any
// @Success 200 {object} map[string]any
// @Router /targets/{target}/references/{id} [post]
// @Security Bearer
func AttachReference(c *gin.Context) {
	target := c.Param("target")
	refID, err := latch.ParseUUID(c.Param("id"))
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": "invalid reference id"})
		return
	}
	count, err := service.Tracker.Attach(c.Request.Context(), target, refID, c.Query("label"))
	if err != nil {
		c.IndentedJSON(errStatus(err), gin.H{"message": err.Error()})
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"target": target, "count": count})
}

// DetachReference godoc
// @Summary DetachReference removes a dependent of the target.
// @Schemes
// @Description DetachReference detaches the reference id from the target under its exclusive lease and responds with the resulting live reference count. Detaching a missing id is a no-op.
// @Tags References
// @Accept json
// @Produce json
// @Param target path string true "Target object" minlength(1)
// @Param id path string true "Reference id (UUID)" minlength(36) maxlength(36)
// @Failure 400 {object} map[string]any
// @Failure 408 {object} map[string]any
// @Success 200 {object} map[string]any
// @Router /targets/{target}/references/{id} [delete]
// @Security Bearer
func DetachReference(c *gin.Context) {
	target := c.Param("target")
	refID, err := latch.ParseUUID(c.Param("id"))
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": "invalid reference id"})
		return
	}
	count, err := service.Tracker.Detach(c.Request.Context(), target, refID)
	if err != nil {
		c.IndentedJSON(errStatus(err), gin.H{"message": err.Error()})
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"target": target, "count": count})
}

// GetReferenceCount godoc
// @Summary GetReferenceCount returns the target's live reference count.
// @Schemes
// @Description GetReferenceCount responds with the number of currently attached references of the target.
// @Tags References
// @Accept json
// @Produce json
// @Param target path string true "Target object" minlength(1)
// @Failure 500 {object} map[string]any
// @Success 200 {object} map[string]any
// @Router /targets/{target}/references [get]
// @Security Bearer
func GetReferenceCount(c *gin.Context) {
	target := c.Param("target")
	count, err := service.Tracker.Count(c.Request.Context(), target)
	if err != nil {
		c.IndentedJSON(errStatus(err), gin.H{"message": err.Error()})
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"target": target, "count": count})
}

// DeleteTarget godoc
// @Summary DeleteTarget destroys a target with no live references.
// @Schemes
// @Description DeleteTarget removes the target's metadata under its exclusive lease; while references remain it fails with 409 and removes nothing.
// @Tags References
// @Accept json
// @Produce json
// @Param target path string true "Target object" minlength(1)
// @Failure 409 {object} map[string]any
// @Success 204 {object} nil
// @Router /targets/{target} [delete]
// @Security Bearer
func DeleteTarget(c *gin.Context) {
	target := c.Param("target")
	if err := service.Tracker.Delete(c.Request.Context(), target, nil); err != nil {
		c.IndentedJSON(errStatus(err), gin.H{"message": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
