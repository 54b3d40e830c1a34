package handlers

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/credential-service/internal/http/response"
	"github.com/ignatzorin/credential-service/internal/models"
)

// CodeAllocator выдача студенческих кодов.
type CodeAllocator interface {
	AllocateNext(ctx context.Context, subPillarBase int) (string, error)
	Usage(ctx context.Context, subPillarBase int) (*models.SubPillarUsage, error)
}

type StudentCodeHandler struct {
	allocator CodeAllocator
}

func NewStudentCodeHandler(allocator CodeAllocator) *StudentCodeHandler {
	return &StudentCodeHandler{allocator: allocator}
}

type allocateCodeRequest struct {
	SubPillarBase int `json:"sub_pillar_base" binding:"required"`
}

// Allocate POST /student-codes
func (h *StudentCodeHandler) Allocate(c *gin.Context) {
	var req allocateCodeRequest
	if !bindJSON(c, &req) {
		return
	}

	code, err := h.allocator.AllocateNext(c.Request.Context(), req.SubPillarBase)
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, gin.H{"code": code, "sub_pillar_base": req.SubPillarBase})
}

// Usage GET /student-codes/:base/usage
func (h *StudentCodeHandler) Usage(c *gin.Context) {
	base, err := strconv.Atoi(c.Param("base"))
	if err != nil {
		response.BadRequest(c, "база подпиллара должна быть числом")
		return
	}

	usage, err := h.allocator.Usage(c.Request.Context(), base)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, usage)
}

// SubPillars GET /student-codes/sub-pillars
func (h *StudentCodeHandler) SubPillars(c *gin.Context) {
	all := models.AllSubPillars()
	bases := make([]int, 0, len(all))
	for _, sp := range all {
		bases = append(bases, int(sp))
	}
	response.Success(c, gin.H{"sub_pillar_bases": bases})
}
