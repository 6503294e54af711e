package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_ImageService(t *testing.T) {
	m, err := Parse(`
services:
  web:
    image: ghcr.io/acme/shop:1.4.2
    ports:
      - "3000:3000"
    environment:
      NODE_ENV: production
      API_BASE: https://api.example.com
`)
	require.NoError(t, err)

	assert.Equal(t, "ghcr.io/acme/shop:1.4.2", m.Image)
	assert.Equal(t, 3000, m.ContainerPort)
	assert.Equal(t, "production", m.Env["NODE_ENV"])
	assert.Nil(t, m.BuildParams())
}

func TestParse_BuildService(t *testing.T) {
	m, err := Parse(`
services:
  web:
    build:
      context: .
      dockerfile: Dockerfile.prod
    expose:
      - "8080"
`)
	require.NoError(t, err)

	assert.Empty(t, m.Image)
	assert.Equal(t, 8080, m.ContainerPort)
	assert.Equal(t, map[string]string{
		"context":    ".",
		"dockerfile": "Dockerfile.prod",
	}, m.BuildParams())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{
			name:    "empty input",
			input:   "   \n",
			wantErr: ErrEmptyInput,
		},
		{
			name:    "invalid yaml",
			input:   "services: [unclosed",
			wantErr: ErrInvalidYAML,
		},
		{
			name:    "no services",
			input:   "services: {}\n",
			wantErr: ErrNoServices,
		},
		{
			name: "multiple services",
			input: `
services:
  web:
    image: a:1
  worker:
    image: b:1
`,
			wantErr: ErrMultipleServices,
		},
		{
			name: "secrets unsupported",
			input: `
services:
  web:
    image: a:1
secrets:
  token:
    file: ./token
`,
			wantErr: ErrUnsupportedFeature,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParse_NoPortIsZero(t *testing.T) {
	m, err := Parse(`
services:
  web:
    image: a:1
`)
	require.NoError(t, err)
	assert.Zero(t, m.ContainerPort, "caller falls back to the -port flag")
}
