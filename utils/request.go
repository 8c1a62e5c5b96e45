package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/julienschmidt/httprouter"
)

var validate = validator.New()

const maxBody = 1 << 20

// DecodeAndValidate reads a JSON body into v and checks its validate tags.
func DecodeAndValidate(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request payload: %w", err)
	}
	return Validate(v)
}

// Validate checks v's validate tags and flattens the first failure into a message.
func Validate(v any) error {
	err := validate.Struct(v)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		f := verrs[0]
		return fmt.Errorf("invalid %s: failed %q", f.Field(), f.Tag())
	}
	return err
}

// ParamInt reads a non-negative integer path parameter.
func ParamInt(ps httprouter.Params, name string) (int, error) {
	n, err := strconv.Atoi(ps.ByName(name))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return n, nil
}
