package webrtcsink

import (
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

// startRTCPLossLoop reads receiver reports off every active pad's RTP
// sender and feeds their fraction-lost field into the homegrown
// controller's loss_control, implementing §4.5's "on each TWCC-feedback
// notification from the rtp session, runs loss_control" — GCC mode gets
// its feedback through pion/interceptor's own TWCC bandwidth estimator, so
// this loop only runs for CCHomegrown sessions.
func startRTCPLossLoop(session *Session) {
	if session.Homegrown == nil {
		return
	}
	for _, pad := range session.ActivePads() {
		sender := pad.Transceiver.Sender()
		if sender == nil {
			continue
		}
		go readRTCPLoss(session, sender)
	}
}

func readRTCPLoss(session *Session, sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range packets {
			rr, ok := pkt.(*rtcp.ReceiverReport)
			if !ok || len(rr.Reports) == 0 {
				continue
			}
			var total float64
			for _, block := range rr.Reports {
				total += float64(block.FractionLost) / 255.0
			}
			session.Homegrown.OnTWCCFeedback(total / float64(len(rr.Reports)))
		}
	}
}
