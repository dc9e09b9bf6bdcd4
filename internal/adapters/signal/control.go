package signal

func (ctl *SignalWSController) handlePing(conn *WsSignalConn, req request) {
	ctl.replyAck(conn, req.RequestID, "pong")
}
