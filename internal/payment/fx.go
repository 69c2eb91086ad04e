package payment

import (
	"go.uber.org/fx"

	"github.com/wuwweizn/tradingagents-cn-vps/internal/config"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/payment/adapters"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/payment/adapters/alipay"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/payment/adapters/wechat"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/payment/domain"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/payment/service"
)

var Module = fx.Module("payment.service",
	fx.Provide(func(cfg config.Config) *adapters.Registry {
		alipayAdapter := alipay.New()
		wechatAdapter := wechat.New()
		return adapters.NewRegistry(
			adapters.Entry{
				Adapter:     alipayAdapter,
				Verifier:    alipayAdapter,
				Credentials: credentials(cfg.Alipay),
			},
			adapters.Entry{
				Adapter:     wechatAdapter,
				Verifier:    wechatAdapter,
				Credentials: credentials(cfg.Wechat),
			},
		)
	}),
	fx.Provide(service.NewService),
)

func credentials(pc config.ProviderConfig) domain.Credentials {
	return domain.Credentials{
		AppID:      pc.AppID,
		MerchantID: pc.MerchantID,
		APIKey:     pc.APIKey,
		PublicKey:  pc.PublicKey,
		PrivateKey: pc.PrivateKey,
		Gateway:    pc.Gateway,
		NotifyURL:  pc.NotifyURL,
		ReturnURL:  pc.ReturnURL,
		SignType:   pc.SignType,
		Enabled:    pc.Enabled,
	}
}
