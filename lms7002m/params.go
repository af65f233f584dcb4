package lms7002m

// Param is a bit field inside one 16-bit chip register
type Param struct {
	Name string
	Addr uint16
	MSB  uint
	LSB  uint
}

func (p Param) mask() uint16 {
	return uint16((1<<(p.MSB-p.LSB+1))-1) << p.LSB
}

// Max is the largest value the field can hold
func (p Param) Max() uint16 {
	return p.mask() >> p.LSB
}

// insert returns reg with the field set to v
func (p Param) insert(reg, v uint16) uint16 {
	return reg&^p.mask() | (v<<p.LSB)&p.mask()
}

// extract returns the field out of reg
func (p Param) extract(reg uint16) uint16 {
	return (reg & p.mask()) >> p.LSB
}

// The subset of the LMS7002M register map the driver touches
var (
	MAC = Param{"MAC", 0x0020, 1, 0}

	// XTRX specific clock buffer routing
	EN_OUT2_XBUF_TX   = Param{"EN_OUT2_XBUF_TX", 0x0085, 4, 4}
	EN_TBUFIN_XBUF_RX = Param{"EN_TBUFIN_XBUF_RX", 0x0085, 3, 3}

	EN_LDO_DIG    = Param{"EN_LDO_DIG", 0x0092, 15, 15}
	EN_LDO_DIGGN  = Param{"EN_LDO_DIGGN", 0x0092, 14, 14}
	EN_LDO_DIGSXR = Param{"EN_LDO_DIGSXR", 0x0092, 13, 13}
	EN_LDO_DIGSXT = Param{"EN_LDO_DIGSXT", 0x0092, 12, 12}
	EN_LDO_DIVGN  = Param{"EN_LDO_DIVGN", 0x0092, 11, 11}
	EN_LDO_DIVSXR = Param{"EN_LDO_DIVSXR", 0x0092, 10, 10}
	EN_LDO_DIVSXT = Param{"EN_LDO_DIVSXT", 0x0092, 9, 9}
	EN_LDO_LNA12  = Param{"EN_LDO_LNA12", 0x0092, 8, 8}
	EN_LDO_LNA14  = Param{"EN_LDO_LNA14", 0x0092, 7, 7}
	EN_LDO_MXRFE  = Param{"EN_LDO_MXRFE", 0x0092, 6, 6}
	EN_LDO_RBB    = Param{"EN_LDO_RBB", 0x0092, 5, 5}
	EN_LDO_RXBUF  = Param{"EN_LDO_RXBUF", 0x0092, 4, 4}
	EN_LDO_TBB    = Param{"EN_LDO_TBB", 0x0092, 3, 3}
	EN_LDO_TIA12  = Param{"EN_LDO_TIA12", 0x0092, 2, 2}
	EN_LDO_TIA14  = Param{"EN_LDO_TIA14", 0x0092, 1, 1}
	EN_G_LDO      = Param{"EN_G_LDO", 0x0092, 0, 0}

	EN_LOADIMP_LDO_TLOB = Param{"EN_LOADIMP_LDO_TLOB", 0x0093, 15, 15}
	EN_LDO_AFE          = Param{"EN_LDO_AFE", 0x0093, 9, 9}
	EN_LDO_CPGN         = Param{"EN_LDO_CPGN", 0x0093, 8, 8}
	EN_LDO_CPSXR        = Param{"EN_LDO_CPSXR", 0x0093, 7, 7}
	EN_LDO_TLOB         = Param{"EN_LDO_TLOB", 0x0093, 6, 6}
	EN_LDO_TPAD         = Param{"EN_LDO_TPAD", 0x0093, 5, 5}
	EN_LDO_TXBUF        = Param{"EN_LDO_TXBUF", 0x0093, 4, 4}
	EN_LDO_VCOGN        = Param{"EN_LDO_VCOGN", 0x0093, 3, 3}
	EN_LDO_VCOSXR       = Param{"EN_LDO_VCOSXR", 0x0093, 2, 2}
	EN_LDO_VCOSXT       = Param{"EN_LDO_VCOSXT", 0x0093, 1, 1}
	EN_LDO_CPSXT        = Param{"EN_LDO_CPSXT", 0x0093, 0, 0}

	PD_LDO_DIGIp1 = Param{"PD_LDO_DIGIp1", 0x0091, 2, 2}
	PD_LDO_DIGIp2 = Param{"PD_LDO_DIGIp2", 0x0091, 1, 1}
	PD_LDO_SPIBUF = Param{"PD_LDO_SPIBUF", 0x0091, 0, 0}

	// path enables, selected per channel by MAC
	EN_DIR_SXRSXT = Param{"EN_DIR_SXRSXT", 0x0124, 4, 0}
	EN_G_RFE      = Param{"EN_G_RFE", 0x010C, 0, 0}
	EN_G_RBB      = Param{"EN_G_RBB", 0x0115, 0, 0}
	EN_G_TRF      = Param{"EN_G_TRF", 0x0100, 0, 0}
	EN_G_TBB      = Param{"EN_G_TBB", 0x0105, 0, 0}
	EN_RXTSP      = Param{"EN_RXTSP", 0x0400, 0, 0}
	EN_TXTSP      = Param{"EN_TXTSP", 0x0200, 0, 0}

	// RF path selection
	SEL_PATH_RFE  = Param{"SEL_PATH_RFE", 0x010D, 8, 7}
	SEL_BAND1_TRF = Param{"SEL_BAND1_TRF", 0x0103, 11, 11}
	SEL_BAND2_TRF = Param{"SEL_BAND2_TRF", 0x0103, 10, 10}

	// gains
	G_LNA_RFE           = Param{"G_LNA_RFE", 0x0113, 9, 6}
	G_TIA_RFE           = Param{"G_TIA_RFE", 0x0113, 1, 0}
	G_PGA_RBB           = Param{"G_PGA_RBB", 0x0119, 4, 0}
	LOSS_MAIN_TXPAD_TRF = Param{"LOSS_MAIN_TXPAD_TRF", 0x0101, 15, 11}
	LOSS_LIN_TXPAD_TRF  = Param{"LOSS_LIN_TXPAD_TRF", 0x0101, 10, 6}
	CG_IAMP_TBB         = Param{"CG_IAMP_TBB", 0x0108, 15, 10}

	// low pass filters
	R_CTL_LPF_RBB = Param{"R_CTL_LPF_RBB", 0x0116, 15, 11}
	RCAL_LPFH_TBB = Param{"RCAL_LPFH_TBB", 0x0109, 15, 8}
	PD_LPFL_RBB   = Param{"PD_LPFL_RBB", 0x0115, 2, 2}
	PD_LPFH_TBB   = Param{"PD_LPFH_TBB", 0x0105, 4, 4}

	// synthesizers, SXR when MAC=1 and SXT when MAC=2
	EN_DIV2_DIVPROG = Param{"EN_DIV2_DIVPROG", 0x011C, 10, 10}
	FRAC_SDM_LSB    = Param{"FRAC_SDM_LSB", 0x011D, 15, 0}
	INT_SDM         = Param{"INT_SDM", 0x011E, 13, 4}
	FRAC_SDM_MSB    = Param{"FRAC_SDM_MSB", 0x011E, 3, 0}
	DIV_LOCH        = Param{"DIV_LOCH", 0x011F, 8, 6}
	SEL_VCO         = Param{"SEL_VCO", 0x0121, 2, 1}
	VCO_CMPHO       = Param{"VCO_CMPHO", 0x0123, 13, 13}
	VCO_CMPLO       = Param{"VCO_CMPLO", 0x0123, 12, 12}

	// clock generator
	EN_ADCCLKH_CLKGN  = Param{"EN_ADCCLKH_CLKGN", 0x0086, 11, 11}
	FRAC_SDM_CGEN_LSB = Param{"FRAC_SDM_CGEN_LSB", 0x0087, 15, 0}
	INT_SDM_CGEN      = Param{"INT_SDM_CGEN", 0x0088, 13, 4}
	FRAC_SDM_CGEN_MSB = Param{"FRAC_SDM_CGEN_MSB", 0x0088, 3, 0}
	DIV_OUTCH_CGEN    = Param{"DIV_OUTCH_CGEN", 0x0089, 10, 3}
	HBD_OVR_RXTSP     = Param{"HBD_OVR_RXTSP", 0x0403, 14, 12}
	HBI_OVR_TXTSP     = Param{"HBI_OVR_TXTSP", 0x0203, 14, 12}
)

// ldoEnables are toggled together by EnableLDO
var ldoEnables = []Param{
	EN_LDO_DIG, EN_LDO_DIGGN, EN_LDO_DIGSXR, EN_LDO_DIGSXT, EN_LDO_DIVGN,
	EN_LDO_DIVSXR, EN_LDO_DIVSXT, EN_LDO_LNA12, EN_LDO_LNA14, EN_LDO_MXRFE,
	EN_LDO_RBB, EN_LDO_RXBUF, EN_LDO_TBB, EN_LDO_TIA12, EN_LDO_TIA14, EN_G_LDO,
	EN_LDO_AFE, EN_LDO_CPGN, EN_LDO_CPSXR, EN_LDO_TLOB, EN_LDO_TPAD,
	EN_LDO_TXBUF, EN_LDO_VCOGN, EN_LDO_VCOSXR, EN_LDO_VCOSXT, EN_LDO_CPSXT,
}
