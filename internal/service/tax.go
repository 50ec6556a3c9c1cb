package service

import (
	"context"

	"github.com/taxmill/taxmill/internal/api/dto"
	"github.com/taxmill/taxmill/internal/config"
	"github.com/taxmill/taxmill/internal/domain/tax"
	"github.com/taxmill/taxmill/internal/domain/taxengine"
	"github.com/taxmill/taxmill/internal/logger"
	"github.com/taxmill/taxmill/internal/types"
)

type TaxService interface {
	ComputeTaxes(ctx context.Context, req *dto.ComputeTaxesRequest) (*dto.ComputeTaxesResponse, error)
	ComputeTotals(ctx context.Context, req *dto.TaxTotalsRequest) (*dto.TaxTotalsResponse, error)
}

type taxService struct {
	engine *taxengine.Engine
	cfg    *config.Configuration
	log    *logger.Logger
}

func NewTaxService(cfg *config.Configuration, log *logger.Logger) TaxService {
	return &taxService{
		engine: taxengine.New(log),
		cfg:    cfg,
		log:    log,
	}
}

func (s *taxService) ComputeTaxes(ctx context.Context, req *dto.ComputeTaxesRequest) (*dto.ComputeTaxesResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	mode := s.roundingMode(req.RoundingMode)

	lines, err := s.prepareLines(req.ToBaseLineInputs())
	if err != nil {
		return nil, err
	}
	if err := s.engine.AddTaxDetails(ctx, lines, mode); err != nil {
		return nil, err
	}
	summary, err := s.engine.RoundTaxDetails(lines, mode, req.Anchor)
	if err != nil {
		return nil, err
	}
	result, err := s.engine.PrepareTaxLines(lines, req.ToTaxLines())
	if err != nil {
		return nil, err
	}

	resp := &dto.ComputeTaxesResponse{
		TaxLinesToCreate: dto.ToTaxLineResponses(result.ToCreate),
		TaxLinesToUpdate: dto.ToTaxLineResponses(result.ToUpdate),
		TaxLinesToDelete: dto.ToTaxLineResponses(result.ToDelete),
	}
	for _, line := range lines {
		resp.Lines = append(resp.Lines, dto.ToComputedLineResponse(line))
	}
	for _, upd := range result.BaseLineUpdates {
		resp.BaseLineUpdates = append(resp.BaseLineUpdates, &dto.BaseLineUpdateResponse{
			LineID:        upd.LineID,
			TotalExcluded: upd.TotalExcluded,
			TotalIncluded: upd.TotalIncluded,
			TaxTagIDs:     upd.TaxTagIDs,
		})
	}
	for _, residual := range summary.Residuals {
		resp.RoundingResiduals = append(resp.RoundingResiduals, &dto.RoundingResidualResponse{
			TaxID:    residual.TaxID,
			Currency: residual.Currency,
			Amount:   residual.Amount,
		})
	}
	return resp, nil
}

func (s *taxService) ComputeTotals(ctx context.Context, req *dto.TaxTotalsRequest) (*dto.TaxTotalsResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	mode := s.roundingMode(req.RoundingMode)

	computeReq := &dto.ComputeTaxesRequest{
		Currency:        req.Currency,
		CompanyCurrency: req.CompanyCurrency,
		Lines:           req.Lines,
	}
	lines, err := s.prepareLines(computeReq.ToBaseLineInputs())
	if err != nil {
		return nil, err
	}
	if err := s.engine.AddTaxDetails(ctx, lines, mode); err != nil {
		return nil, err
	}
	if _, err := s.engine.RoundTaxDetails(lines, mode, req.Anchor); err != nil {
		return nil, err
	}

	opts := taxengine.TotalsOptions{
		TaxGroups: make(map[string]*tax.TaxGroup, len(req.TaxGroups)),
	}
	for _, g := range req.TaxGroups {
		opts.TaxGroups[g.ID] = g
	}
	if req.CashRounding != nil {
		opts.CashRounding = &taxengine.CashRoundingOptions{
			Precision: req.CashRounding.Precision,
			Method:    req.CashRounding.Method,
			Strategy:  req.CashRounding.Strategy,
		}
	}

	summary, err := s.engine.GetTaxTotalsSummary(lines, req.Currency, opts)
	if err != nil {
		return nil, err
	}
	return dto.ToTaxTotalsResponse(summary), nil
}

func (s *taxService) prepareLines(inputs []taxengine.BaseLineInput) ([]*taxengine.BaseLine, error) {
	lines := make([]*taxengine.BaseLine, len(inputs))
	for i, in := range inputs {
		line, err := s.engine.PrepareBaseLine(in)
		if err != nil {
			return nil, err
		}
		lines[i] = line
	}
	return lines, nil
}

func (s *taxService) roundingMode(requested types.RoundingMode) types.RoundingMode {
	if requested != "" {
		return requested
	}
	return s.cfg.Tax.DefaultRoundingMode
}
