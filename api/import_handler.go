package api

import (
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/xraph/herald"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/importer"
)

// importContacts accepts either a JSON importer.Payload or a multipart
// form with a "file" part and user_id, group_id, group_name and sheet
// fields.
func (a *API) importContacts(w http.ResponseWriter, r *http.Request) {
	m, err := parseMode(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	var p importer.Payload
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")) //nolint:errcheck // empty type falls through to JSON
	if mediaType == "multipart/form-data" {
		p, err = readImportForm(w, r)
	} else {
		err = decodeJSON(w, r, &p)
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if p.UserID == "" || len(p.File) == 0 {
		a.writeError(w, r, fmt.Errorf("%w: user_id and file are required", herald.ErrValidation))
		return
	}
	if p.GroupID == "" && p.GroupName != "" {
		// Fixed before enqueue so every attempt fills the same group.
		p.GroupID = id.NewGroupID()
	}

	dispatch[importer.Result](a, w, r, m, importer.TypeImport, p, p.UserID, nil)
}

func readImportForm(w http.ResponseWriter, r *http.Request) (importer.Payload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
		return importer.Payload{}, fmt.Errorf("%w: parse form: %v", herald.ErrValidation, err)
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return importer.Payload{}, fmt.Errorf("%w: file part: %v", herald.ErrValidation, err)
	}
	defer file.Close() //nolint:errcheck // read-only

	data, err := io.ReadAll(file)
	if err != nil {
		return importer.Payload{}, fmt.Errorf("%w: read file: %v", herald.ErrValidation, err)
	}
	return importer.Payload{
		UserID:    r.FormValue("user_id"),
		GroupID:   r.FormValue("group_id"),
		GroupName: r.FormValue("group_name"),
		Sheet:     r.FormValue("sheet"),
		File:      data,
	}, nil
}
