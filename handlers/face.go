package handlers

import (
	"context"
	"net/http"

	"github.com/camden-git/faceidbackend/services"
)

// FaceEngine is the part of the face service the HTTP layer drives.
type FaceEngine interface {
	Enroll(ctx context.Context, name, payload string) (services.EnrollResult, error)
	Recognize(ctx context.Context, payload string) ([]services.RecognitionResult, error)
}

type FaceHandler struct {
	Faces FaceEngine
}

type EnrollRequest struct {
	Name  string `json:"name" validate:"required,max=255"`
	Image string `json:"image" validate:"required"`
}

type EnrollResponse struct {
	Message    string   `json:"message"`
	IdentityID int64    `json:"identity_id"`
	Samples    []string `json:"samples"`
}

type RecognizeRequest struct {
	Image string `json:"image" validate:"required"`
}

type RecognizeResponse struct {
	Results []services.RecognitionResult `json:"results"`
}

// Enroll handles POST /api/faces/enroll.
func (fh *FaceHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}

	result, err := fh.Faces.Enroll(r.Context(), req.Name, req.Image)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, EnrollResponse{
		Message:    "Face enrolled and model trained",
		IdentityID: result.IdentityID,
		Samples:    result.Samples,
	})
}

// Recognize handles POST /api/faces/recognize. An image without faces yields
// an empty result list.
func (fh *FaceHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	var req RecognizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}

	results, err := fh.Faces.Recognize(r.Context(), req.Image)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if results == nil {
		results = []services.RecognitionResult{}
	}
	writeJSON(w, http.StatusOK, RecognizeResponse{Results: results})
}

// legacy request bodies use the field names of the first clients
type legacyEnrollRequest struct {
	Nombre string `json:"nombre"`
	Imagen string `json:"imagen"`
}

type legacyRecognizeRequest struct {
	Imagen string `json:"imagen"`
}

const (
	legacyMsgEnrolled       = "Rostro guardado y modelo entrenado correctamente"
	legacyMsgRequired       = "Nombre e imagen son campos requeridos"
	legacyMsgImageRequired  = "Imagen es un campo requerido"
	legacyMsgDecode         = "No se pudo decodificar la imagen"
	legacyMsgNoFace         = "No se detectaron rostros en la imagen"
	legacyMsgDatabasePrefix = "Error en la base de datos: "
)

func writeLegacyError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// legacyErrorFor maps a service error to the status and message of the
// legacy endpoints.
func legacyErrorFor(err error, validationMsg string) (int, string) {
	switch services.KindOf(err) {
	case services.KindValidation:
		return http.StatusBadRequest, validationMsg
	case services.KindDecode:
		return http.StatusBadRequest, legacyMsgDecode
	case services.KindDetection:
		return http.StatusBadRequest, legacyMsgNoFace
	case services.KindDatabase:
		return http.StatusInternalServerError, legacyMsgDatabasePrefix + err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

// LegacyEnroll handles POST /guardar_rostro.
func (fh *FaceHandler) LegacyEnroll(w http.ResponseWriter, r *http.Request) {
	var req legacyEnrollRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeLegacyError(w, http.StatusBadRequest, legacyMsgRequired)
		return
	}
	if req.Nombre == "" || req.Imagen == "" {
		writeLegacyError(w, http.StatusBadRequest, legacyMsgRequired)
		return
	}

	if _, err := fh.Faces.Enroll(r.Context(), req.Nombre, req.Imagen); err != nil {
		status, msg := legacyErrorFor(err, legacyMsgRequired)
		if status >= http.StatusInternalServerError {
			logRequestError(r, err)
		}
		writeLegacyError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": legacyMsgEnrolled})
}

// LegacyRecognize handles POST /reconocer_rostro. Each face is reported as
// [name, confidence, identity id].
func (fh *FaceHandler) LegacyRecognize(w http.ResponseWriter, r *http.Request) {
	var req legacyRecognizeRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Imagen == "" {
		writeLegacyError(w, http.StatusBadRequest, legacyMsgImageRequired)
		return
	}

	results, err := fh.Faces.Recognize(r.Context(), req.Imagen)
	if err != nil {
		status, msg := legacyErrorFor(err, legacyMsgImageRequired)
		if status >= http.StatusInternalServerError {
			logRequestError(r, err)
		}
		writeLegacyError(w, status, msg)
		return
	}

	faces := make([][]interface{}, 0, len(results))
	for _, res := range results {
		faces = append(faces, []interface{}{res.IdentityName, res.ConfidencePercent, res.IdentityID})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"recognized_face_id": faces})
}
