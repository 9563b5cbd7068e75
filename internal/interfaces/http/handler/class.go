package handler

import (
	"context"

	"z-class-ai-api/internal/domain/entity"
	"z-class-ai-api/internal/interfaces/http/dto"
	"z-class-ai-api/pkg/errors"

	"github.com/gin-gonic/gin"
)

// ClassReader 已持久化课程的只读访问
type ClassReader interface {
	Get(ctx context.Context, name string) (*entity.Class, error)
	List(ctx context.Context) ([]entity.ClassPreview, error)
}

// ClassHandler 课程查看处理器
type ClassHandler struct {
	classes ClassReader
}

// NewClassHandler 创建课程处理器
func NewClassHandler(classes ClassReader) *ClassHandler {
	return &ClassHandler{classes: classes}
}

// ListClasses 列出已持久化的课程
// @Summary 课程列表
// @Tags Classes
// @Produce json
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} dto.Response[dto.ClassListResponse]
// @Failure 500 {object} dto.ErrorResponse
// @Router /v1/classes [get]
func (h *ClassHandler) ListClasses(c *gin.Context) {
	page := dto.BindPage(c)

	previews, err := h.classes.List(c.Request.Context())
	if err != nil {
		respondError(c, errors.ErrStorage.WithError(err), "failed to list classes")
		return
	}

	dto.SuccessWithPage(c,
		dto.ToClassListResponse(dto.PageOf(previews, page)),
		dto.NewPageMeta(page.Page, page.PageSize, len(previews)),
	)
}

// GetClass 获取课程文档
// @Summary 获取课程
// @Description 返回单元、课时及原始 markdown 内容
// @Tags Classes
// @Produce json
// @Param name path string true "课程名"
// @Success 200 {object} dto.Response[dto.ClassResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/classes/{name} [get]
func (h *ClassHandler) GetClass(c *gin.Context) {
	name := dto.BindClassName(c)

	class, err := h.load(c.Request.Context(), name)
	if err != nil {
		respondError(c, err, "failed to get class")
		return
	}

	dto.Success(c, dto.ToClassResponse(class))
}

// GetLesson 获取单个课时
// @Summary 获取课时
// @Tags Classes
// @Produce json
// @Param name path string true "课程名"
// @Param unit path string true "单元名"
// @Param lesson path string true "课时名"
// @Success 200 {object} dto.Response[dto.LessonResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/classes/{name}/units/{unit}/lessons/{lesson} [get]
func (h *ClassHandler) GetLesson(c *gin.Context) {
	var path dto.LessonPath
	if err := c.ShouldBindUri(&path); err != nil {
		dto.BadRequest(c, "invalid path: "+err.Error())
		return
	}

	class, err := h.load(c.Request.Context(), path.ClassName)
	if err != nil {
		respondError(c, err, "failed to get class")
		return
	}

	unit, lesson, ok := class.FindLesson(path.UnitName, path.LessonName)
	if !ok {
		respondError(c, errors.ErrLessonNotFound.WithDetail(path.UnitName+"/"+path.LessonName), "lesson not found")
		return
	}

	dto.Success(c, dto.ToLessonResponse(unit.Name, lesson))
}

func (h *ClassHandler) load(ctx context.Context, name string) (*entity.Class, error) {
	class, err := h.classes.Get(ctx, name)
	if err != nil {
		if errors.IsAppError(err) {
			return nil, err
		}
		return nil, errors.ErrStorage.WithError(err)
	}
	if class == nil {
		return nil, errors.ErrClassNotFound.WithDetail(name)
	}
	return class, nil
}
