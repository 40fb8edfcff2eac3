package webserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/fwforge-io/fwforge/internal/bootpart"
	"github.com/fwforge-io/fwforge/internal/hal"
	"github.com/fwforge-io/fwforge/internal/update"
	"github.com/fwforge-io/fwforge/pkg/log"
)

const uploadChunkSize = 4096

// handleChangePartition switches the boot slot to the primary application
// partition. The response is written before the restart is requested so the
// client sees the outcome.
func (s *Server) handleChangePartition(w http.ResponseWriter, r *http.Request) {
	switch s.boot.SelectPrimaryApplicationSlot() {
	case bootpart.Success:
		fmt.Fprintln(w, "Partition switched. Restarting...")
		if s.requestRestart != nil {
			s.requestRestart()
		}
	case bootpart.PartitionNotFound:
		http.Error(w, "Failed to find partition!", http.StatusInternalServerError)
	case bootpart.SetFailed:
		http.Error(w, "Failed to set boot partition!", http.StatusInternalServerError)
	default:
		http.Error(w, "Unknown error while changing partition!", http.StatusInternalServerError)
	}
}

// handleUpload streams a multipart firmware or filesystem image into an
// update session. The target partition comes from the size headers, not
// from the form fields.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	target, size, err := update.ResolveTarget(r.Header)
	if err != nil {
		http.Error(w, "Missing size header in request!", http.StatusBadRequest)
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "Malformed multipart request!", http.StatusBadRequest)
		return
	}

	part, err := nextFilePart(mr)
	if err != nil {
		http.Error(w, "No file in upload!", http.StatusBadRequest)
		return
	}

	sess, err := s.updates.Start(target, size)
	if err != nil {
		log.Error(err, "Failed to start upload", "target", target)
		http.Error(w, "Failed to start file upload.", http.StatusInternalServerError)
		return
	}

	buf := make([]byte, uploadChunkSize)
	for {
		n, err := part.Read(buf)
		if n > 0 {
			if werr := sess.Write(buf[:n]); werr != nil {
				log.Error(werr, "Failed to write file upload")
				http.Error(w, "Failed to write file upload.", http.StatusInternalServerError)
				return
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			sess.Abort()
			http.Error(w, "File upload aborted.", http.StatusInternalServerError)
			return
		}
	}

	total, err := sess.Finish()
	if err != nil {
		log.Error(err, "Failed to finalize file upload")
		http.Error(w, fmt.Sprintf("Failed to finalize file upload: %v", err), http.StatusInternalServerError)
		return
	}

	fmt.Fprintf(w, "File upload successful. (%d bytes)\n", total)
}

// nextFilePart skips form fields until it finds the uploaded file.
func nextFilePart(mr *multipart.Reader) (io.Reader, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FileName() != "" {
			return part, nil
		}
	}
}

// handlePartitionSize reports the capacity of the partition selected by the
// size headers. Only the header presence matters here, not its value.
func (s *Server) handlePartitionSize(w http.ResponseWriter, r *http.Request) {
	var target hal.ImageTarget
	switch {
	case r.Header.Get(update.HeaderFirmwareSize) != "":
		target = hal.TargetApplication
	case r.Header.Get(update.HeaderFilesystemSize) != "":
		target = hal.TargetFilesystem
	default:
		http.Error(w, "Partition not found!", http.StatusInternalServerError)
		return
	}

	part, err := s.partitions.Find(target)
	if err != nil {
		http.Error(w, "Partition not found!", http.StatusInternalServerError)
		return
	}

	fmt.Fprintln(w, strconv.FormatUint(part.Size, 10))
}

// handleStatus reports the connectivity state as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"state": s.state()})
}
