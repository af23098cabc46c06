package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Ask(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.Validate(Ask, []byte(`{"methodology":"worked_examples","user_query":"o que é recursão?"}`)))
	assert.NoError(t, v.Validate(Ask, []byte(`{"user_query":"q","user_context":{"user_id":"u1","difficulty_level":"beginner"}}`)))

	err := v.Validate(Ask, []byte(`{"methodology":"default"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, Ask, ve.Schema)
	assert.Contains(t, ve.Errors[0], "user_query")

	err = v.Validate(Ask, []byte(`{"user_query":"q","user_context":{"difficulty_level":"expert"}}`))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidate_NotJSON(t *testing.T) {
	err := NewValidator().Validate(Search, []byte(`{"query":`))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidate_IndexChunkRejectsEmbedding(t *testing.T) {
	v := NewValidator()
	assert.NoError(t, v.Validate(IndexChunk, []byte(`{"id":"c1","body":"text","tags":["a"]}`)))
	assert.ErrorIs(t, v.Validate(IndexChunk, []byte(`{"id":"c1","body":"text","embedding":[0.1]}`)), ErrInvalid)
	assert.ErrorIs(t, v.Validate(IndexChunk, []byte(`{"id":"","body":"text"}`)), ErrInvalid)
}

func TestValidate_Consolidate(t *testing.T) {
	v := NewValidator()
	assert.NoError(t, v.Validate(Consolidate, []byte(`{"session_id":"s","turn":{"role":"user","content":"hi"}}`)))
	assert.ErrorIs(t, v.Validate(Consolidate, []byte(`{"session_id":"s","turn":{"role":"system","content":"hi"}}`)), ErrInvalid)
}

func TestValidate_EverySchemaCompiles(t *testing.T) {
	v := NewValidator()
	for _, name := range []string{Ask, IndexChunk, Search, Analyze, ValidateSolution, Consolidate} {
		_, err := v.compiled(name)
		assert.NoError(t, err, name)
	}
	_, err := v.compiled("nope")
	assert.Error(t, err)
}

func TestDumpErrors(t *testing.T) {
	assert.Equal(t, "", dumpErrors(nil))
	assert.Equal(t, "a; b; c ... and 2 more", dumpErrors([]string{"a", "b", "c", "d", "e"}))
}
