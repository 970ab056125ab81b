package streaming

import (
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/interceptor/pkg/report"
	"github.com/pion/interceptor/pkg/stats"
	pion "github.com/pion/webrtc/v4"
)

// NACKBufferSize is the number of packets kept for retransmission.
const NACKBufferSize = 1024

// NewWebRTCAPI creates the pion API used for viewer peers. Frames travel on
// a data channel, but the default codecs are registered so offers that also
// carry media sections still negotiate.
func NewWebRTCAPI() (*pion.API, error) {
	m := &pion.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	i := &interceptor.Registry{}
	if err := configureInterceptors(m, i); err != nil {
		return nil, err
	}

	s := pion.SettingEngine{}
	s.SetDTLSInsecureSkipHelloVerify(true)

	return pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
		pion.WithSettingEngine(s),
	), nil
}

// configureInterceptors sets up NACK, RTCP reports, and stats.
func configureInterceptors(m *pion.MediaEngine, i *interceptor.Registry) error {
	generator, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return err
	}
	responder, err := nack.NewResponderInterceptor(nack.ResponderSize(NACKBufferSize))
	if err != nil {
		return err
	}
	m.RegisterFeedback(pion.RTCPFeedback{Type: "nack"}, pion.RTPCodecTypeVideo)
	m.RegisterFeedback(pion.RTCPFeedback{Type: "nack", Parameter: "pli"}, pion.RTPCodecTypeVideo)
	i.Add(responder)
	i.Add(generator)

	receiver, err := report.NewReceiverInterceptor()
	if err != nil {
		return err
	}
	sender, err := report.NewSenderInterceptor()
	if err != nil {
		return err
	}
	i.Add(receiver)
	i.Add(sender)

	statsInterceptor, err := stats.NewInterceptor()
	if err != nil {
		return err
	}
	i.Add(statsInterceptor)
	return nil
}
