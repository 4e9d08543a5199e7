package handler_test

import (
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-portal-api/internal/dto"
)

func TestCommentHandlerAddAndList(t *testing.T) {
	env := setupEnv(t, "comments_add_list")
	assignmentID := env.createAssignment(t, nil)

	resp, body := env.do(t, http.MethodPost, "/api/v1/assignments/"+assignmentID+"/comments",
		map[string]interface{}{"content": `Is recursion allowed? <script>alert(1)</script>`}, env.asStudent())
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, body.Message)

	var comment dto.CommentResponse
	unmarshalData(t, body, &comment)
	require.Equal(t, "student", comment.UserType)
	require.Equal(t, env.student.ID, comment.UserID)
	require.NotContains(t, comment.Content, "<script>")

	scoped := "submission-1"
	resp, _ = env.do(t, http.MethodPost, "/api/v1/assignments/"+assignmentID+"/comments",
		map[string]interface{}{"content": "Yes, recursion is fine.", "submission_id": scoped}, env.asFaculty())
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/api/v1/assignments/"+assignmentID+"/comments", nil, env.asFaculty())
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var all []dto.CommentResponse
	unmarshalData(t, body, &all)
	require.Len(t, all, 2)

	resp, body = env.do(t, http.MethodGet, "/api/v1/assignments/"+assignmentID+"/comments?submission_id="+scoped, nil, env.asFaculty())
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var thread []dto.CommentResponse
	unmarshalData(t, body, &thread)
	require.Len(t, thread, 1)
	require.Equal(t, "faculty", thread[0].UserType)
}

func TestCommentHandlerUnknownAssignment(t *testing.T) {
	env := setupEnv(t, "comments_unknown")

	resp, body := env.do(t, http.MethodPost, "/api/v1/assignments/missing/comments",
		map[string]interface{}{"content": "hello"}, env.asStudent())
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	require.False(t, body.Success)
}
