package network

import (
	"fmt"
	"os"
)

// Responder answers inbound file requests from locally provided files.
type Responder interface {
	ProvidedPath(fileName string) (string, bool)
	RespondFile(h *ResponseHandle, data []byte)
	RespondError(h *ResponseHandle, reason string)
}

// AnswerFromDisk serves req from the path recorded by StartProviding. A file
// that isn't provided or can't be read is answered with an explicit failure,
// which is also returned.
func AnswerFromDisk(r Responder, req InboundRequest) error {
	path, ok := r.ProvidedPath(req.FileName)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrFileNotProvided, req.FileName)
		r.RespondError(req.Handle, err.Error())
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("read %s: %w", req.FileName, err)
		r.RespondError(req.Handle, err.Error())
		return err
	}

	r.RespondFile(req.Handle, data)
	return nil
}
