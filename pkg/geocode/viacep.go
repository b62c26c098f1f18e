package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/melhorpreco/coverage-api/internal/model"
	"github.com/melhorpreco/coverage-api/internal/resilience"
)

// viaCEPResponse is the JSON response from the ViaCEP API. A nonexistent
// CEP returns HTTP 200 with {"erro": true}.
type viaCEPResponse struct {
	CEP        string `json:"cep"`
	Logradouro string `json:"logradouro"`
	Bairro     string `json:"bairro"`
	Localidade string `json:"localidade"`
	UF         string `json:"uf"`
	Erro       bool   `json:"erro"`
}

// lookupViaCEP resolves a normalized 8-digit CEP to an address.
func (g *geocoder) lookupViaCEP(ctx context.Context, cep string) (*model.GeocodeResult, error) {
	reqURL := g.viaCEPBase + "/" + cep + "/json/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: viacep build request")
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "geocode: viacep request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("geocode: viacep returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		// ViaCEP answers 400 for malformed CEPs that slipped past local
		// validation.
		if resp.StatusCode == http.StatusBadRequest {
			return nil, eris.Wrapf(ErrInvalidPostalCode, "%s", cep)
		}
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "geocode: viacep read body"), 0)
	}

	var vr viaCEPResponse
	if err := json.Unmarshal(body, &vr); err != nil {
		return nil, eris.Wrap(err, "geocode: viacep parse response")
	}
	if vr.Erro {
		return nil, eris.Wrapf(ErrNotFound, "%s", cep)
	}

	return &model.GeocodeResult{
		PostalCode: cep,
		Street:     vr.Logradouro,
		District:   vr.Bairro,
		City:       vr.Localidade,
		State:      vr.UF,
	}, nil
}
