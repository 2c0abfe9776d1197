// Package transform applies an endpoint's ordered, declarative request
// mutations. Operations never fail the pipeline: anything that cannot
// be applied (unknown type, bad regex, malformed JSON body) is skipped.
package transform

import (
	"encoding/json"
	"regexp"

	"github.com/apigw/gateway/internal/model"
)

// Transform mutates a request context in place.
type Transform interface {
	Apply(rc *model.RequestContext)
}

// builders maps a spec type to its constructor. An error means the
// spec is unusable and the operation is skipped.
var builders = map[string]func(model.TransformSpec) (Transform, error){
	"add_header":          newAddHeader,
	"remove_header":       newRemoveHeader,
	"rewrite_path":        newRewritePath,
	"add_query_parameter": newAddQueryParam,
	"transform_body":      newTransformBody,
	"set_timeout":         newSetTimeout,
}

// Apply runs specs in order against rc, recording the type of each
// operation actually applied.
func Apply(rc *model.RequestContext, specs []model.TransformSpec) {
	for _, spec := range specs {
		build, ok := builders[spec.Type]
		if !ok {
			continue // unknown types are silently skipped
		}
		t, err := build(spec)
		if err != nil {
			continue
		}
		t.Apply(rc)
		rc.Applied = append(rc.Applied, spec.Type)
	}
}

type addHeader struct{ name, value string }

func newAddHeader(s model.TransformSpec) (Transform, error) {
	return addHeader{s.Header, s.Value}, nil
}

func (t addHeader) Apply(rc *model.RequestContext) {
	rc.Request.Header.Set(t.name, t.value)
}

type removeHeader struct{ name string }

func newRemoveHeader(s model.TransformSpec) (Transform, error) {
	return removeHeader{s.Header}, nil
}

func (t removeHeader) Apply(rc *model.RequestContext) {
	rc.Request.Header.Del(t.name)
}

type rewritePath struct {
	re          *regexp.Regexp
	replacement string
}

func newRewritePath(s model.TransformSpec) (Transform, error) {
	re, err := regexp.Compile(s.Pattern)
	if err != nil {
		return nil, err
	}
	return rewritePath{re, s.Replacement}, nil
}

func (t rewritePath) Apply(rc *model.RequestContext) {
	rc.Request.Path = t.re.ReplaceAllString(rc.Request.Path, t.replacement)
}

type addQueryParam struct{ name, value string }

func newAddQueryParam(s model.TransformSpec) (Transform, error) {
	return addQueryParam{s.Param, s.Value}, nil
}

func (t addQueryParam) Apply(rc *model.RequestContext) {
	rc.Request.Query.Set(t.name, t.value)
}

type transformBody struct{ field, value string }

func newTransformBody(s model.TransformSpec) (Transform, error) {
	return transformBody{s.Field, s.Value}, nil
}

// Apply injects a field into a JSON object body. A body that is not a
// JSON object is left untouched.
func (t transformBody) Apply(rc *model.RequestContext) {
	var obj map[string]any
	if err := json.Unmarshal(rc.Request.Body, &obj); err != nil || obj == nil {
		return
	}
	obj[t.field] = t.value
	b, err := json.Marshal(obj)
	if err != nil {
		return
	}
	rc.Request.Body = b
}

type setTimeout struct{ d model.TransformSpec }

func newSetTimeout(s model.TransformSpec) (Transform, error) {
	return setTimeout{s}, nil
}

// Apply overrides the forward timeout for this call only.
func (t setTimeout) Apply(rc *model.RequestContext) {
	if t.d.Timeout > 0 {
		rc.Timeout = t.d.Timeout
	}
}
